package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
	"github.com/jackc/pgx/v5"
)

// ─── Slots ────────────────────────────────────────────────────────────────────

const slotColumns = `id, name, starts_at, ends_at, slot_type`

func scanSlot(row pgx.Row) (model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.Name, &s.StartsAt, &s.EndsAt, &s.Kind)
	return s, err
}

// CreateSlot inserts a slot and sets its generated id.
func (p *Postgres) CreateSlot(ctx context.Context, s *model.Slot) error {
	err := p.db.QueryRow(ctx,
		`INSERT INTO slots (name, starts_at, ends_at, slot_type)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		s.Name, s.StartsAt, s.EndsAt, s.Kind,
	).Scan(&s.ID)
	if err != nil {
		return fmt.Errorf("insert slot: %w", err)
	}
	return nil
}

// UpdateSlot stores every slot field.
func (p *Postgres) UpdateSlot(ctx context.Context, s *model.Slot) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE slots SET name = $2, starts_at = $3, ends_at = $4, slot_type = $5 WHERE id = $1`,
		s.ID, s.Name, s.StartsAt, s.EndsAt, s.Kind,
	)
	return mustAffect(tag, err, "slot")
}

// DeleteSlot removes a slot. Slots that still own events cannot be removed.
func (p *Postgres) DeleteSlot(ctx context.Context, id int64) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM slots WHERE id = $1`, id)
	if err != nil && isForeignKeyViolation(err) {
		return errSlotHasEvents
	}
	return mustAffect(tag, err, "slot")
}

// GetSlot returns one slot.
func (p *Postgres) GetSlot(ctx context.Context, id int64) (*model.Slot, error) {
	s, err := scanSlot(p.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "slot")
	}
	return &s, nil
}

// ListSlots returns every slot ordered by start time.
func (p *Postgres) ListSlots(ctx context.Context) ([]model.Slot, error) {
	rows, err := p.db.Query(ctx, `SELECT `+slotColumns+` FROM slots ORDER BY starts_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Slot, error) {
		return scanSlot(row)
	})
}

// ─── Events ───────────────────────────────────────────────────────────────────

const eventSelect = `SELECT e.id, e.slot_id, e.name, e.description, e.organiser,
	e.starts_at, e.ends_at, e.capacity, e.signup_deadline, e.signup_type, e.weight,
	e.direct_child, e.root_parent, e.deleted_at, s.slot_type,
	(SELECT COUNT(*) FROM attendances a
	   LEFT JOIN teams t ON t.code = a.team_code
	  WHERE a.event_id = e.id AND (a.team_code IS NULL OR t.deleted_at IS NULL)) AS occupancy
	FROM events e JOIN slots s ON s.id = e.slot_id`

func scanEvent(row pgx.Row) (model.Event, error) {
	var e model.Event
	err := row.Scan(
		&e.ID, &e.SlotID, &e.Name, &e.Description, &e.Organiser,
		&e.StartsAt, &e.EndsAt, &e.Capacity, &e.SignupDeadline, &e.SignupKind, &e.Weight,
		&e.DirectChild, &e.RootParent, &e.DeletedAt, &e.SlotKind,
		&e.Occupancy,
	)
	return e, err
}

// CreateEvent inserts an event and reloads it with its derived fields.
func (p *Postgres) CreateEvent(ctx context.Context, e *model.Event) error {
	err := p.db.QueryRow(ctx,
		`INSERT INTO events (slot_id, name, description, organiser, starts_at, ends_at,
		     capacity, signup_deadline, signup_type, weight, direct_child, root_parent)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12) RETURNING id`,
		e.SlotID, e.Name, e.Description, e.Organiser, e.StartsAt, e.EndsAt,
		e.Capacity, e.SignupDeadline, e.SignupKind, e.Weight, e.DirectChild, e.RootParent,
	).Scan(&e.ID)
	if err != nil {
		if isForeignKeyViolation(err) {
			return errBadEventReference
		}
		return fmt.Errorf("insert event: %w", err)
	}
	return p.reloadEvent(ctx, e)
}

// UpdateEvent stores every mutable event field.
func (p *Postgres) UpdateEvent(ctx context.Context, e *model.Event) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE events SET slot_id = $2, name = $3, description = $4, organiser = $5,
		     starts_at = $6, ends_at = $7, capacity = $8, signup_deadline = $9,
		     signup_type = $10, weight = $11, direct_child = $12, root_parent = $13
		 WHERE id = $1`,
		e.ID, e.SlotID, e.Name, e.Description, e.Organiser, e.StartsAt, e.EndsAt,
		e.Capacity, e.SignupDeadline, e.SignupKind, e.Weight, e.DirectChild, e.RootParent,
	)
	if err != nil && isForeignKeyViolation(err) {
		return errBadEventReference
	}
	if err := mustAffect(tag, err, "event"); err != nil {
		return err
	}
	return p.reloadEvent(ctx, e)
}

func (p *Postgres) reloadEvent(ctx context.Context, e *model.Event) error {
	fresh, err := p.GetEvent(ctx, e.ID, true)
	if err != nil {
		return err
	}
	*e = *fresh
	return nil
}

// GetEvent returns one event, optionally including soft-deleted ones.
func (p *Postgres) GetEvent(ctx context.Context, id int64, withDeleted bool) (*model.Event, error) {
	q := eventSelect + ` WHERE e.id = $1`
	if !withDeleted {
		q += ` AND e.deleted_at IS NULL`
	}
	e, err := scanEvent(p.db.QueryRow(ctx, q, id))
	if err != nil {
		return nil, notFound(err, "event")
	}
	return &e, nil
}

// LockEvent takes a row lock on a live event with SELECT … FOR UPDATE.
// Any other transaction locking the same row blocks until this one commits
// or rolls back, which serialises the capacity check and the insert.
func (p *Postgres) LockEvent(ctx context.Context, id int64) (*model.Event, error) {
	var locked int64
	err := p.db.QueryRow(ctx,
		`SELECT id FROM events WHERE id = $1 AND deleted_at IS NULL FOR UPDATE`,
		id,
	).Scan(&locked)
	if err != nil {
		return nil, notFound(err, "event")
	}
	return p.GetEvent(ctx, id, false)
}

// ListEvents returns events matching f ordered by start time.
func (p *Postgres) ListEvents(ctx context.Context, f storage.EventFilter) ([]model.Event, error) {
	var w where
	if !f.WithDeleted {
		w.add(`e.deleted_at IS NULL`)
	}
	if f.SlotID != 0 {
		w.add(`e.slot_id = ?`, f.SlotID)
	}
	if f.SlotKind != "" {
		w.add(`s.slot_type = ?`, f.SlotKind)
	}
	if f.Query != "" {
		w.add(`e.name ILIKE '%' || ? || '%'`, f.Query)
	}
	if len(f.IDs) > 0 {
		w.add(`e.id = ANY(?)`, f.IDs)
	}
	rows, err := p.db.Query(ctx, eventSelect+w.String()+` ORDER BY e.starts_at, e.id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Event, error) {
		return scanEvent(row)
	})
}

// SetEventDeleted soft-deletes (non-nil) or restores (nil) an event.
func (p *Postgres) SetEventDeleted(ctx context.Context, id int64, deletedAt *time.Time) error {
	tag, err := p.db.Exec(ctx, `UPDATE events SET deleted_at = $2 WHERE id = $1`, id, deletedAt)
	return mustAffect(tag, err, "event")
}
