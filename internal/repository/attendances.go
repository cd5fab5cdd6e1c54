package repository

import (
	"context"
	"fmt"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const attendanceSelect = `SELECT a.id::text, a.event_id, a.user_id, a.team_code,
	a.is_present, a.place, a.created_at, a.updated_at
	FROM attendances a JOIN events e ON e.id = a.event_id`

func scanAttendance(row pgx.Row) (model.Attendance, error) {
	var (
		a        model.Attendance
		userID   *int64
		teamCode *string
	)
	err := row.Scan(&a.ID, &a.EventID, &userID, &teamCode, &a.IsPresent, &a.Place, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	switch {
	case userID != nil:
		a.Attender = model.UserAttender(*userID)
	case teamCode != nil:
		a.Attender = model.TeamAttender(*teamCode)
	}
	return a, nil
}

// attenderColumns splits an attender into the nullable user_id/team_code pair.
func attenderColumns(a model.Attender) (*int64, *string) {
	if a.IsTeam() {
		return nil, &a.TeamCode
	}
	return &a.UserID, nil
}

// FindAttendance returns the attendance of who on eventID.
func (p *Postgres) FindAttendance(ctx context.Context, eventID int64, who model.Attender) (*model.Attendance, error) {
	q := attendanceSelect + ` WHERE a.event_id = $1 AND a.user_id = $2`
	var arg any = who.UserID
	if who.IsTeam() {
		q = attendanceSelect + ` WHERE a.event_id = $1 AND a.team_code = $2`
		arg = who.TeamCode
	}
	a, err := scanAttendance(p.db.QueryRow(ctx, q, eventID, arg))
	if err != nil {
		return nil, notFound(err, "attendance")
	}
	if err := p.loadMembers(ctx, []*model.Attendance{&a}); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAttendance returns one attendance by id.
func (p *Postgres) GetAttendance(ctx context.Context, id string) (*model.Attendance, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, apperr.Missing("attendance")
	}
	a, err := scanAttendance(p.db.QueryRow(ctx, attendanceSelect+` WHERE a.id = $1::uuid`, id))
	if err != nil {
		return nil, notFound(err, "attendance")
	}
	if err := p.loadMembers(ctx, []*model.Attendance{&a}); err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAttendances returns attendances on live events matching f.
func (p *Postgres) ListAttendances(ctx context.Context, f storage.AttendanceFilter) ([]model.Attendance, error) {
	var w where
	w.add(`e.deleted_at IS NULL`)
	if f.EventID != 0 {
		w.add(`a.event_id = ?`, f.EventID)
	}
	if f.SlotID != 0 {
		w.add(`e.slot_id = ?`, f.SlotID)
	}
	if f.UserID != 0 {
		w.add(`a.user_id = ?`, f.UserID)
	}
	if f.TeamCode != "" {
		w.add(`a.team_code = ?`, f.TeamCode)
	}
	if f.Present != nil {
		w.add(`a.is_present = ?`, *f.Present)
	}
	rows, err := p.db.Query(ctx, attendanceSelect+w.String()+` ORDER BY a.created_at, a.id`, w.args...)
	if err != nil {
		return nil, fmt.Errorf("list attendances: %w", err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Attendance, error) {
		return scanAttendance(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan attendances: %w", err)
	}
	ptrs := make([]*model.Attendance, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := p.loadMembers(ctx, ptrs); err != nil {
		return nil, err
	}
	return out, nil
}

// loadMembers fills Members on the team attendances among as.
func (p *Postgres) loadMembers(ctx context.Context, as []*model.Attendance) error {
	byID := make(map[string]*model.Attendance)
	var ids []string
	for _, a := range as {
		if a.Attender.IsTeam() {
			byID[a.ID] = a
			ids = append(ids, a.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	rows, err := p.db.Query(ctx,
		`SELECT attendance_id::text, user_id, is_present
		 FROM team_member_attendances
		 WHERE attendance_id = ANY($1::uuid[])
		 ORDER BY user_id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("list team member attendances: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var m model.TeamMemberAttendance
		if err := rows.Scan(&m.AttendanceID, &m.UserID, &m.IsPresent); err != nil {
			return fmt.Errorf("scan team member attendance: %w", err)
		}
		a := byID[m.AttendanceID]
		a.Members = append(a.Members, m)
	}
	return rows.Err()
}

// InsertAttendance inserts a and its member rows. The partial unique
// indexes on (event_id, user_id) and (event_id, team_code) back up the
// duplicate check done under the event lock.
func (p *Postgres) InsertAttendance(ctx context.Context, a *model.Attendance) error {
	userID, teamCode := attenderColumns(a.Attender)
	_, err := p.db.Exec(ctx,
		`INSERT INTO attendances (id, event_id, user_id, team_code, is_present, place, created_at, updated_at)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.EventID, userID, teamCode, a.IsPresent, a.Place, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperr.Wrap(err, apperr.CodeAlreadySignedUp, apperr.ErrAlreadySignedUp.Message)
		}
		return fmt.Errorf("insert attendance: %w", err)
	}
	if len(a.Members) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range a.Members {
		batch.Queue(
			`INSERT INTO team_member_attendances (attendance_id, user_id, is_present) VALUES ($1::uuid, $2, $3)`,
			m.AttendanceID, m.UserID, m.IsPresent,
		)
	}
	if err := p.db.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert team member attendances: %w", err)
	}
	return nil
}

// UpdateAttendance stores presence, place and update time.
func (p *Postgres) UpdateAttendance(ctx context.Context, a *model.Attendance) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE attendances SET is_present = $2, place = $3, updated_at = $4 WHERE id = $1::uuid`,
		a.ID, a.IsPresent, a.Place, a.UpdatedAt,
	)
	return mustAffect(tag, err, "attendance")
}

// DeleteAttendance removes the member rows first, then the attendance.
func (p *Postgres) DeleteAttendance(ctx context.Context, id string) error {
	if _, err := p.db.Exec(ctx, `DELETE FROM team_member_attendances WHERE attendance_id = $1::uuid`, id); err != nil {
		return fmt.Errorf("delete team member attendances: %w", err)
	}
	tag, err := p.db.Exec(ctx, `DELETE FROM attendances WHERE id = $1::uuid`, id)
	return mustAffect(tag, err, "attendance")
}

// UpdateMemberPresence sets one member's presence in a team attendance.
func (p *Postgres) UpdateMemberPresence(ctx context.Context, key model.MemberAttendanceKey, present bool) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE team_member_attendances SET is_present = $3 WHERE attendance_id = $1::uuid AND user_id = $2`,
		key.AttendanceID, key.UserID, present,
	)
	return mustAffect(tag, err, "team member attendance")
}
