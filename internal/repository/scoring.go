package repository

import (
	"context"
	"fmt"

	"github.com/ejgdev/e5n/internal/model"
	"github.com/jackc/pgx/v5"
)

// ScoringSnapshot reads classes, bonus points for bonusEventCode, students,
// live team memberships and every placed attendance on a live event.
func (p *Postgres) ScoringSnapshot(ctx context.Context, bonusEventCode string) (*model.ScoringSnapshot, error) {
	snap := &model.ScoringSnapshot{}

	rows, err := p.db.Query(ctx, `SELECT label, points FROM ejg_classes ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	if snap.Classes, err = pgx.CollectRows(rows, scanClass); err != nil {
		return nil, fmt.Errorf("scan classes: %w", err)
	}

	rows, err = p.db.Query(ctx,
		`SELECT class_label, event_code, points FROM bonus_points WHERE event_code = $1 ORDER BY id`,
		bonusEventCode,
	)
	if err != nil {
		return nil, fmt.Errorf("list bonus points: %w", err)
	}
	snap.Bonus, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BonusPoints, error) {
		var b model.BonusPoints
		err := row.Scan(&b.ClassLabel, &b.EventCode, &b.Points)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan bonus points: %w", err)
	}

	rows, err = p.db.Query(ctx, userSelect+` WHERE u.ejg_class <> '' ORDER BY u.id`)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	snap.Students, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan students: %w", err)
	}

	rows, err = p.db.Query(ctx,
		`SELECT m.team_code, m.user_id, m.role
		 FROM team_memberships m JOIN teams t ON t.code = m.team_code
		 WHERE t.deleted_at IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("list memberships: %w", err)
	}
	snap.Memberships, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.TeamMembership, error) {
		var m model.TeamMembership
		err := row.Scan(&m.TeamCode, &m.UserID, &m.Role)
		return m, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan memberships: %w", err)
	}

	rows, err = p.db.Query(ctx,
		`SELECT a.user_id, a.team_code, a.place, e.weight
		 FROM attendances a JOIN events e ON e.id = a.event_id
		 WHERE a.place IS NOT NULL AND e.deleted_at IS NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}
	snap.Results, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Result, error) {
		var (
			r        model.Result
			userID   *int64
			teamCode *string
		)
		if err := row.Scan(&userID, &teamCode, &r.Place, &r.Weight); err != nil {
			return r, err
		}
		if userID != nil {
			r.Attender = model.UserAttender(*userID)
		} else if teamCode != nil {
			r.Attender = model.TeamAttender(*teamCode)
		}
		return r, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan results: %w", err)
	}
	return snap, nil
}

func scanClass(row pgx.CollectableRow) (model.Class, error) {
	var c model.Class
	err := row.Scan(&c.Label, &c.Points)
	return c, err
}

// SaveClassPoints upserts the point totals of classes.
func (p *Postgres) SaveClassPoints(ctx context.Context, classes []model.Class) error {
	if len(classes) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range classes {
		batch.Queue(
			`INSERT INTO ejg_classes (label, points) VALUES ($1, $2)
			 ON CONFLICT (label) DO UPDATE SET points = EXCLUDED.points`,
			c.Label, c.Points,
		)
	}
	if err := p.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save class points: %w", err)
	}
	return nil
}

// AddBonusPoints records b, creating the class row when it is new.
func (p *Postgres) AddBonusPoints(ctx context.Context, b model.BonusPoints) error {
	if _, err := p.db.Exec(ctx,
		`INSERT INTO ejg_classes (label) VALUES ($1) ON CONFLICT (label) DO NOTHING`,
		b.ClassLabel,
	); err != nil {
		return fmt.Errorf("ensure class: %w", err)
	}
	if _, err := p.db.Exec(ctx,
		`INSERT INTO bonus_points (class_label, event_code, points) VALUES ($1, $2, $3)`,
		b.ClassLabel, b.EventCode, b.Points,
	); err != nil {
		return fmt.Errorf("insert bonus points: %w", err)
	}
	return nil
}

// ListClasses returns classes ordered by points, highest first.
func (p *Postgres) ListClasses(ctx context.Context) ([]model.Class, error) {
	rows, err := p.db.Query(ctx, `SELECT label, points FROM ejg_classes ORDER BY points DESC, label`)
	if err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return pgx.CollectRows(rows, scanClass)
}
