package submission

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/go-sql-driver/mysql"

	appErr "emc/pkg/errors"
)

// MySQLConfig holds connection pool settings.
// DSN format: "user:password@tcp(host:port)/dbname?parseTime=true".
type MySQLConfig struct {
	DSN                string
	MaxOpenConnections int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
	ConnMaxIdleTime    time.Duration
}

// DefaultMySQLConfig returns pool settings suitable for one service
// instance.
func DefaultMySQLConfig() *MySQLConfig {
	return &MySQLConfig{
		MaxOpenConnections: 25,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    5 * time.Minute,
		ConnMaxIdleTime:    10 * time.Minute,
	}
}

// MySQLRepository implements Repository on MySQL.
type MySQLRepository struct {
	db *sql.DB
}

// NewMySQLRepository opens the pool and verifies connectivity.
func NewMySQLRepository(cfg *MySQLConfig) (*MySQLRepository, error) {
	if cfg == nil || cfg.DSN == "" {
		return nil, appErr.ValidationError("dsn", "required")
	}
	if cfg.MaxOpenConnections == 0 {
		cfg.MaxOpenConnections = 25
	}
	if cfg.MaxIdleConnections == 0 {
		cfg.MaxIdleConnections = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = 10 * time.Minute
	}

	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConnections)
	db.SetMaxIdleConns(cfg.MaxIdleConnections)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, appErr.Wrap(err, appErr.DatabaseError)
	}
	return &MySQLRepository{db: db}, nil
}

// NewMySQLRepositoryWithDB wraps an existing pool; used by tests.
func NewMySQLRepositoryWithDB(db *sql.DB) *MySQLRepository {
	return &MySQLRepository{db: db}
}

// DB exposes the pool so collaborators can share the connection.
func (r *MySQLRepository) DB() *sql.DB { return r.db }

const submissionColumns = "id, module_id, assignment_id, user_id, attempt, status, earned, total, score, is_practice, ignored, archive_path, created_at, updated_at"

func (r *MySQLRepository) Create(ctx context.Context, sub *Submission) error {
	if sub == nil {
		return appErr.ValidationError("submission", "required")
	}
	if sub.ID == "" {
		return appErr.ValidationError("id", "required")
	}
	if sub.AssignmentID <= 0 {
		return appErr.ValidationError("assignment_id", "required")
	}
	if sub.UserID <= 0 {
		return appErr.ValidationError("user_id", "required")
	}
	if sub.Attempt <= 0 {
		return appErr.ValidationError("attempt", "required")
	}
	if sub.Status == "" {
		sub.Status = StatusQueued
	}

	query := `
		INSERT INTO submissions
		(id, module_id, assignment_id, user_id, attempt, status, is_practice, archive_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		sub.ID, sub.ModuleID, sub.AssignmentID, sub.UserID,
		sub.Attempt, sub.Status, sub.IsPractice, sub.ArchivePath)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "insert submission")
	}
	return nil
}

func (r *MySQLRepository) GetByID(ctx context.Context, id string) (*Submission, error) {
	if id == "" {
		return nil, appErr.ValidationError("id", "required")
	}
	query := "SELECT " + submissionColumns + " FROM submissions WHERE id = ?"
	row := r.db.QueryRowContext(ctx, query, id)

	var sub Submission
	err := row.Scan(
		&sub.ID, &sub.ModuleID, &sub.AssignmentID, &sub.UserID, &sub.Attempt,
		&sub.Status, &sub.Earned, &sub.Total, &sub.Score,
		&sub.IsPractice, &sub.Ignored, &sub.ArchivePath,
		&sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErr.New(appErr.RecordNotFound).WithDetail("id", id)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "load submission")
	}
	return &sub, nil
}

func (r *MySQLRepository) LatestAttempt(ctx context.Context, assignmentID, userID int64) (int64, error) {
	query := `
		SELECT COALESCE(MAX(attempt), 0) FROM submissions
		WHERE assignment_id = ? AND user_id = ?
	`
	var attempt int64
	if err := r.db.QueryRowContext(ctx, query, assignmentID, userID).Scan(&attempt); err != nil {
		return 0, appErr.Wrapf(err, appErr.DatabaseError, "latest attempt")
	}
	return attempt, nil
}

func (r *MySQLRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	return r.update(ctx, id, "UPDATE submissions SET status = ?, updated_at = NOW() WHERE id = ?", status, id)
}

func (r *MySQLRepository) UpdateMark(ctx context.Context, id string, earned, total, score int) error {
	query := `
		UPDATE submissions
		SET earned = ?, total = ?, score = ?, status = ?, updated_at = NOW()
		WHERE id = ?
	`
	return r.update(ctx, id, query, earned, total, score, StatusGraded, id)
}

func (r *MySQLRepository) SetIgnored(ctx context.Context, id string, ignored bool) error {
	return r.update(ctx, id, "UPDATE submissions SET ignored = ?, updated_at = NOW() WHERE id = ?", ignored, id)
}

func (r *MySQLRepository) update(ctx context.Context, id, query string, args ...any) error {
	if id == "" {
		return appErr.ValidationError("id", "required")
	}
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "update submission")
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErr.New(appErr.RecordNotFound).WithDetail("id", id)
	}
	return nil
}

// Close releases the pool.
func (r *MySQLRepository) Close() error { return r.db.Close() }
