package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"netops/metrics"
	"netops/utils"
)

// Database interface for dependency injection and testing
type Database interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// Operation is one device operation as stored in the audit log
type Operation struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	RequestID  string    `json:"request_id"`
	Actor      string    `json:"actor"`
	Device     string    `json:"device"`
	Host       string    `json:"host"`
	Interface  string    `json:"interface"`
	Operation  string    `json:"operation"`
	Success    bool      `json:"success"`
	Error      string    `json:"error"`
	DurationMS int64     `json:"duration_ms"`
}

// AuditRecorder stores and lists device operations
type AuditRecorder interface {
	Enabled() bool
	Record(ctx context.Context, op Operation) error
	Recent(ctx context.Context, limit int) ([]Operation, error)
}

// NewAuditRecorder returns a Postgres-backed recorder, or a no-op recorder
// when db is nil
func NewAuditRecorder(db Database) AuditRecorder {
	if db == nil {
		return NopAuditRecorder{}
	}
	return &PGAuditRecorder{db: db}
}

// PGAuditRecorder writes to the device_operations table
type PGAuditRecorder struct {
	db Database
}

func (r *PGAuditRecorder) Enabled() bool { return true }

// Record inserts op. A missing ID or timestamp is filled in.
func (r *PGAuditRecorder) Record(ctx context.Context, op Operation) error {
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO device_operations
			(id, created_at, request_id, actor, device, host, interface, operation, success, error, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		op.ID, op.CreatedAt, op.RequestID, op.Actor, op.Device, op.Host, op.Interface,
		op.Operation, op.Success, op.Error, op.DurationMS,
	)
	if err != nil {
		metrics.IncrementError("audit_insert", "audit")
	}
	return err
}

// Recent returns the newest operations first
func (r *PGAuditRecorder) Recent(ctx context.Context, limit int) ([]Operation, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id::text, created_at, request_id, actor, device, host, interface, operation, success, error, duration_ms
		FROM device_operations
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ops := []Operation{}
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.CreatedAt, &op.RequestID, &op.Actor, &op.Device, &op.Host,
			&op.Interface, &op.Operation, &op.Success, &op.Error, &op.DurationMS); err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// NopAuditRecorder is used when no database is configured
type NopAuditRecorder struct{}

func (NopAuditRecorder) Enabled() bool                                    { return false }
func (NopAuditRecorder) Record(context.Context, Operation) error          { return nil }
func (NopAuditRecorder) Recent(context.Context, int) ([]Operation, error) { return []Operation{}, nil }

// RecordAsync stores op in the background so audit latency never delays a
// device response. Failures are logged.
func RecordAsync(rec AuditRecorder, op Operation) {
	if !rec.Enabled() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rec.Record(ctx, op); err != nil {
			utils.LogError("audit record", err, "operation", op.Operation, "device", op.Device)
		}
	}()
}
