package realtime

import (
	"context"
	"database/sql"

	appErr "emc/pkg/errors"
)

// SQLDirectory answers topic authorization lookups from the platform
// database.
type SQLDirectory struct {
	db *sql.DB
}

func NewSQLDirectory(db *sql.DB) (*SQLDirectory, error) {
	if db == nil {
		return nil, appErr.ValidationError("db", "required")
	}
	return &SQLDirectory{db: db}, nil
}

func (d *SQLDirectory) ModuleForSession(ctx context.Context, sessionID int64) (int64, error) {
	var moduleID int64
	err := d.db.QueryRowContext(ctx,
		"SELECT module_id FROM attendance_sessions WHERE id = ?", sessionID).Scan(&moduleID)
	if err == sql.ErrNoRows {
		return 0, appErr.New(appErr.RecordNotFound).WithDetail("session_id", sessionID)
	}
	if err != nil {
		return 0, appErr.Wrap(err, appErr.DatabaseError)
	}
	return moduleID, nil
}

func (d *SQLDirectory) ModuleForAssignment(ctx context.Context, assignmentID int64) (int64, error) {
	var moduleID int64
	err := d.db.QueryRowContext(ctx,
		"SELECT module_id FROM assignments WHERE id = ?", assignmentID).Scan(&moduleID)
	if err == sql.ErrNoRows {
		return 0, appErr.New(appErr.RecordNotFound).WithDetail("assignment_id", assignmentID)
	}
	if err != nil {
		return 0, appErr.Wrap(err, appErr.DatabaseError)
	}
	return moduleID, nil
}

func (d *SQLDirectory) AssignmentExists(ctx context.Context, assignmentID int64) (bool, error) {
	var one int
	err := d.db.QueryRowContext(ctx,
		"SELECT 1 FROM assignments WHERE id = ?", assignmentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	return true, nil
}

func (d *SQLDirectory) TicketOwnerAndModule(ctx context.Context, ticketID int64) (int64, int64, error) {
	var ownerID, moduleID int64
	err := d.db.QueryRowContext(ctx,
		"SELECT t.user_id, a.module_id FROM tickets t JOIN assignments a ON a.id = t.assignment_id WHERE t.id = ?",
		ticketID).Scan(&ownerID, &moduleID)
	if err == sql.ErrNoRows {
		return 0, 0, appErr.New(appErr.RecordNotFound).WithDetail("ticket_id", ticketID)
	}
	if err != nil {
		return 0, 0, appErr.Wrap(err, appErr.DatabaseError)
	}
	return ownerID, moduleID, nil
}

func (d *SQLDirectory) HasAnyRole(ctx context.Context, userID, moduleID int64, roles []string) (bool, error) {
	if len(roles) == 0 {
		return false, nil
	}
	query := "SELECT 1 FROM user_module_roles WHERE user_id = ? AND module_id = ? AND role IN (?"
	args := []interface{}{userID, moduleID, roles[0]}
	for _, role := range roles[1:] {
		query += ",?"
		args = append(args, role)
	}
	query += ") LIMIT 1"

	var one int
	err := d.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, appErr.Wrap(err, appErr.DatabaseError)
	}
	return true, nil
}
