package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
	"github.com/jackc/pgx/v5"
)

// CreateTeam inserts the team and its leader membership.
func (p *Postgres) CreateTeam(ctx context.Context, t *model.Team, leaderID int64) error {
	return p.InTx(ctx, func(s storage.Store) error {
		tx := s.(*Postgres)
		if _, err := tx.db.Exec(ctx, `INSERT INTO teams (code, name) VALUES ($1, $2)`, t.Code, t.Name); err != nil {
			if isUniqueViolation(err) {
				return apperr.Wrap(err, apperr.CodeTeamExists, apperr.ErrTeamExists.Message)
			}
			return fmt.Errorf("insert team: %w", err)
		}
		if err := tx.PutMembership(ctx, model.TeamMembership{
			MembershipKey: model.MembershipKey{TeamCode: t.Code, UserID: leaderID},
			Role:          model.RoleLeader,
		}); err != nil {
			return err
		}
		fresh, err := tx.GetTeam(ctx, t.Code, false)
		if err != nil {
			return err
		}
		*t = *fresh
		return nil
	})
}

// GetTeam returns one team with its members.
func (p *Postgres) GetTeam(ctx context.Context, code string, withDeleted bool) (*model.Team, error) {
	q := `SELECT code, name, deleted_at FROM teams WHERE code = $1`
	if !withDeleted {
		q += ` AND deleted_at IS NULL`
	}
	var t model.Team
	if err := p.db.QueryRow(ctx, q, code).Scan(&t.Code, &t.Name, &t.DeletedAt); err != nil {
		return nil, notFound(err, "team")
	}
	if err := p.loadTeamMembers(ctx, []*model.Team{&t}); err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTeams returns every live team.
func (p *Postgres) ListTeams(ctx context.Context) ([]model.Team, error) {
	return p.listTeams(ctx, `SELECT code, name, deleted_at FROM teams WHERE deleted_at IS NULL ORDER BY code`)
}

// ListUserTeams returns the live teams userID has a membership in.
func (p *Postgres) ListUserTeams(ctx context.Context, userID int64) ([]model.Team, error) {
	return p.listTeams(ctx,
		`SELECT t.code, t.name, t.deleted_at
		 FROM teams t JOIN team_memberships m ON m.team_code = t.code
		 WHERE m.user_id = $1 AND t.deleted_at IS NULL
		 ORDER BY t.code`,
		userID,
	)
}

func (p *Postgres) listTeams(ctx context.Context, q string, args ...any) ([]model.Team, error) {
	rows, err := p.db.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list teams: %w", err)
	}
	teams, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Team, error) {
		var t model.Team
		err := row.Scan(&t.Code, &t.Name, &t.DeletedAt)
		return t, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan teams: %w", err)
	}
	ptrs := make([]*model.Team, len(teams))
	for i := range teams {
		ptrs[i] = &teams[i]
	}
	if err := p.loadTeamMembers(ctx, ptrs); err != nil {
		return nil, err
	}
	return teams, nil
}

func (p *Postgres) loadTeamMembers(ctx context.Context, teams []*model.Team) error {
	if len(teams) == 0 {
		return nil
	}
	byCode := make(map[string]*model.Team, len(teams))
	codes := make([]string, 0, len(teams))
	for _, t := range teams {
		byCode[t.Code] = t
		codes = append(codes, t.Code)
	}
	rows, err := p.db.Query(ctx,
		`SELECT m.team_code, u.id, u.name, u.ejg_class, m.role
		 FROM team_memberships m JOIN users u ON u.id = m.user_id
		 WHERE m.team_code = ANY($1)
		 ORDER BY u.id`,
		codes,
	)
	if err != nil {
		return fmt.Errorf("list team members: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			code string
			m    model.Member
		)
		if err := rows.Scan(&code, &m.UserID, &m.Name, &m.EJGClass, &m.Role); err != nil {
			return fmt.Errorf("scan team member: %w", err)
		}
		t := byCode[code]
		t.Members = append(t.Members, m)
	}
	return rows.Err()
}

// UpdateTeam stores the team name.
func (p *Postgres) UpdateTeam(ctx context.Context, t *model.Team) error {
	tag, err := p.db.Exec(ctx, `UPDATE teams SET name = $2 WHERE code = $1`, t.Code, t.Name)
	return mustAffect(tag, err, "team")
}

// SetTeamDeleted soft-deletes (non-nil) or restores (nil) a team.
func (p *Postgres) SetTeamDeleted(ctx context.Context, code string, deletedAt *time.Time) error {
	tag, err := p.db.Exec(ctx, `UPDATE teams SET deleted_at = $2 WHERE code = $1`, code, deletedAt)
	return mustAffect(tag, err, "team")
}

// PutMembership inserts or updates a membership role.
func (p *Postgres) PutMembership(ctx context.Context, m model.TeamMembership) error {
	_, err := p.db.Exec(ctx,
		`INSERT INTO team_memberships (team_code, user_id, role) VALUES ($1, $2, $3)
		 ON CONFLICT (team_code, user_id) DO UPDATE SET role = EXCLUDED.role`,
		m.TeamCode, m.UserID, m.Role,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return apperr.Missing("team or user")
		}
		return fmt.Errorf("put membership: %w", err)
	}
	return nil
}

// DeleteMembership removes a membership.
func (p *Postgres) DeleteMembership(ctx context.Context, key model.MembershipKey) error {
	tag, err := p.db.Exec(ctx,
		`DELETE FROM team_memberships WHERE team_code = $1 AND user_id = $2`,
		key.TeamCode, key.UserID,
	)
	if err != nil {
		return fmt.Errorf("delete membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.ErrNotTeamMember
	}
	return nil
}
