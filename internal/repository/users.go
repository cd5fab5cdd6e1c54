package repository

import (
	"context"
	"fmt"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
	"github.com/jackc/pgx/v5"
)

const userSelect = `SELECT u.id, u.name, u.email, COALESCE(u.e5code, ''), u.ejg_class, u.img_url, u.google_id FROM users u`

func scanUser(row pgx.Row) (model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.E5Code, &u.EJGClass, &u.ImgURL, &u.IdentityHash)
	return u, err
}

// GetUser returns one user with permissions.
func (p *Postgres) GetUser(ctx context.Context, id int64) (*model.User, error) {
	u, err := scanUser(p.db.QueryRow(ctx, userSelect+` WHERE u.id = $1`, id))
	if err != nil {
		return nil, notFound(err, "user")
	}
	if err := p.loadPermissions(ctx, []*model.User{&u}); err != nil {
		return nil, err
	}
	return &u, nil
}

// GetUserByE5Code returns the user holding code.
func (p *Postgres) GetUserByE5Code(ctx context.Context, code string) (*model.User, error) {
	u, err := scanUser(p.db.QueryRow(ctx, userSelect+` WHERE u.e5code = $1`, code))
	if err != nil {
		return nil, notFound(err, "user")
	}
	if err := p.loadPermissions(ctx, []*model.User{&u}); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListUsers returns users matching f ordered by id.
func (p *Postgres) ListUsers(ctx context.Context, f storage.UserFilter) ([]model.User, error) {
	var w where
	if f.Query != "" {
		w.add(`u.name ILIKE '%' || ? || '%'`, f.Query)
	}
	if f.Class != "" {
		w.add(`u.ejg_class = ?`, f.Class)
	}
	if f.Permission != "" {
		w.add(`EXISTS (SELECT 1 FROM permissions pm WHERE pm.user_id = u.id AND pm.event_id = 0 AND pm.code = ?)`, f.Permission)
	}
	if len(f.IDs) > 0 {
		w.add(`u.id = ANY(?)`, f.IDs)
	}
	rows, err := p.db.Query(ctx, userSelect+w.String()+` ORDER BY u.id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	users, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.User, error) {
		return scanUser(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan users: %w", err)
	}
	ptrs := make([]*model.User, len(users))
	for i := range users {
		ptrs[i] = &users[i]
	}
	if err := p.loadPermissions(ctx, ptrs); err != nil {
		return nil, err
	}
	return users, nil
}

func (p *Postgres) loadPermissions(ctx context.Context, users []*model.User) error {
	if len(users) == 0 {
		return nil
	}
	byID := make(map[int64]*model.User, len(users))
	ids := make([]int64, 0, len(users))
	for _, u := range users {
		byID[u.ID] = u
		ids = append(ids, u.ID)
	}
	rows, err := p.db.Query(ctx,
		`SELECT user_id, event_id, code FROM permissions WHERE user_id = ANY($1) ORDER BY code, event_id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("list permissions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var k model.PermissionKey
		if err := rows.Scan(&k.UserID, &k.EventID, &k.Code); err != nil {
			return fmt.Errorf("scan permission: %w", err)
		}
		u := byID[k.UserID]
		u.Permissions = append(u.Permissions, k)
	}
	return rows.Err()
}

// UpdateUser stores the mutable profile fields.
func (p *Postgres) UpdateUser(ctx context.Context, u *model.User) error {
	var e5code *string
	if u.E5Code != "" {
		e5code = &u.E5Code
	}
	tag, err := p.db.Exec(ctx,
		`UPDATE users SET name = $2, img_url = $3, e5code = $4, ejg_class = $5 WHERE id = $1`,
		u.ID, u.Name, u.ImgURL, e5code, u.EJGClass,
	)
	if err != nil && isUniqueViolation(err) {
		return apperr.Invalid("e5code is already taken")
	}
	return mustAffect(tag, err, "user")
}
