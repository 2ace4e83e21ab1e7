package services

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// Mock Database implementation for testing
type mockDatabase struct {
	queryRowFunc func(ctx context.Context, sql string, args ...interface{}) pgx.Row
	queryFunc    func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	execFunc     func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type mockRow struct {
	scanFunc func(dest ...interface{}) error
}

func (m mockRow) Scan(dest ...interface{}) error {
	if m.scanFunc != nil {
		return m.scanFunc(dest...)
	}
	return nil
}

func (m *mockDatabase) QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row {
	if m.queryRowFunc != nil {
		return m.queryRowFunc(ctx, sql, args...)
	}
	return mockRow{}
}

func (m *mockDatabase) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	if m.queryFunc != nil {
		return m.queryFunc(ctx, sql, args...)
	}
	return nil, errors.New("no rows configured")
}

func (m *mockDatabase) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	if m.execFunc != nil {
		return m.execFunc(ctx, sql, args...)
	}
	return pgconn.CommandTag{}, nil
}

type MockRows struct {
	mock.Mock
	closed bool
}

func (m *MockRows) Next() bool {
	mockArgs := m.Called()
	return mockArgs.Bool(0)
}

func (m *MockRows) Scan(dest ...interface{}) error {
	mockArgs := m.Called(dest...)
	return mockArgs.Error(0)
}

func (m *MockRows) Close()                                       { m.closed = true }
func (m *MockRows) Err() error                                   { return nil }
func (m *MockRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("") }
func (m *MockRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (m *MockRows) Values() ([]interface{}, error)               { return nil, nil }
func (m *MockRows) RawValues() [][]byte                          { return nil }
func (m *MockRows) Conn() *pgx.Conn                              { return nil }

// Test Cleanup Service
func TestRunCleanupTasks(t *testing.T) {
	t.Run("passes retention to the purge function", func(t *testing.T) {
		var gotSQL string
		var gotArgs []interface{}
		mockDB := &mockDatabase{
			queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
				gotSQL = sql
				gotArgs = args
				return mockRow{
					scanFunc: func(dest ...interface{}) error {
						if count, ok := dest[0].(*int64); ok {
							*count = 12
						}
						return nil
					},
				}
			},
		}

		RunCleanupTasks(context.Background(), mockDB, 30)

		assert.Contains(t, gotSQL, "cleanup_old_device_operations")
		assert.Equal(t, []interface{}{30}, gotArgs)
	})

	t.Run("handles database errors gracefully", func(t *testing.T) {
		mockDB := &mockDatabase{
			queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
				return mockRow{
					scanFunc: func(dest ...interface{}) error {
						return errors.New("scan error")
					},
				}
			},
		}

		// Should not panic
		RunCleanupTasks(context.Background(), mockDB, 90)
	})
}

func TestStartCleanupService(t *testing.T) {
	t.Run("runs once at startup and stops with the context", func(t *testing.T) {
		var calls atomic.Int32
		mockDB := &mockDatabase{
			queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
				calls.Add(1)
				return mockRow{}
			},
		}

		ctx, cancel := context.WithCancel(context.Background())
		StartCleanupService(ctx, mockDB, 90)

		assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, 10*time.Millisecond)
		cancel()
	})

	t.Run("disabled without retention or database", func(t *testing.T) {
		var calls atomic.Int32
		mockDB := &mockDatabase{
			queryRowFunc: func(ctx context.Context, sql string, args ...interface{}) pgx.Row {
				calls.Add(1)
				return mockRow{}
			},
		}

		StartCleanupService(context.Background(), mockDB, 0)
		StartCleanupService(context.Background(), nil, 30)

		time.Sleep(50 * time.Millisecond)
		assert.Equal(t, int32(0), calls.Load())
	})
}

// Test Audit Recorder
func TestNewAuditRecorderWithoutDatabase(t *testing.T) {
	rec := NewAuditRecorder(nil)
	assert.False(t, rec.Enabled())
	require.NoError(t, rec.Record(context.Background(), Operation{Operation: "shutdown"}))

	ops, err := rec.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, ops)
	assert.Empty(t, ops)
}

func TestPGAuditRecorderRecord(t *testing.T) {
	t.Run("fills id and timestamp", func(t *testing.T) {
		var gotSQL string
		var gotArgs []interface{}
		mockDB := &mockDatabase{
			execFunc: func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
				gotSQL = sql
				gotArgs = args
				return pgconn.NewCommandTag("INSERT 0 1"), nil
			},
		}

		rec := NewAuditRecorder(mockDB)
		require.True(t, rec.Enabled())
		err := rec.Record(context.Background(), Operation{
			RequestID: "req-1",
			Actor:     "noc",
			Device:    "sw1",
			Host:      "10.0.0.1",
			Interface: "Gi1/0/1",
			Operation: "restart_interface",
			Success:   true,
		})
		require.NoError(t, err)

		assert.Contains(t, gotSQL, "INSERT INTO device_operations")
		require.Len(t, gotArgs, 11)
		assert.NotEmpty(t, gotArgs[0])
		created, ok := gotArgs[1].(time.Time)
		require.True(t, ok)
		assert.False(t, created.IsZero())
		assert.Equal(t, "req-1", gotArgs[2])
		assert.Equal(t, "restart_interface", gotArgs[7])
	})

	t.Run("returns insert errors", func(t *testing.T) {
		mockDB := &mockDatabase{
			execFunc: func(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
				return pgconn.CommandTag{}, errors.New("relation does not exist")
			},
		}
		err := NewAuditRecorder(mockDB).Record(context.Background(), Operation{})
		assert.Error(t, err)
	})
}

func TestPGAuditRecorderRecent(t *testing.T) {
	now := time.Now().UTC()
	rows := &MockRows{}
	rows.On("Next").Return(true).Once()
	rows.On("Next").Return(false).Once()
	rows.On("Scan", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		*(args[0].(*string)) = "b3c1"
		*(args[1].(*time.Time)) = now
		*(args[4].(*string)) = "sw1"
		*(args[7].(*string)) = "shutdown"
		*(args[8].(*bool)) = true
		*(args[10].(*int64)) = 42
	}).Return(nil)

	var limit interface{}
	mockDB := &mockDatabase{
		queryFunc: func(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
			assert.True(t, strings.Contains(sql, "ORDER BY created_at DESC"))
			limit = args[0]
			return rows, nil
		},
	}

	ops, err := NewAuditRecorder(mockDB).Recent(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, 25, limit)
	assert.Equal(t, "b3c1", ops[0].ID)
	assert.Equal(t, "sw1", ops[0].Device)
	assert.Equal(t, "shutdown", ops[0].Operation)
	assert.True(t, ops[0].Success)
	assert.Equal(t, int64(42), ops[0].DurationMS)
	assert.True(t, rows.closed)
	rows.AssertExpectations(t)
}

type recordingAudit struct {
	ops chan Operation
}

func (r *recordingAudit) Enabled() bool { return true }
func (r *recordingAudit) Record(_ context.Context, op Operation) error {
	r.ops <- op
	return nil
}
func (r *recordingAudit) Recent(context.Context, int) ([]Operation, error) { return nil, nil }

func TestRecordAsync(t *testing.T) {
	rec := &recordingAudit{ops: make(chan Operation, 1)}
	RecordAsync(rec, Operation{Operation: "clear_counters", Device: "sw1"})

	select {
	case op := <-rec.ops:
		assert.Equal(t, "clear_counters", op.Operation)
	case <-time.After(time.Second):
		t.Fatal("operation was not recorded")
	}

	// Disabled recorders are skipped without spawning work
	RecordAsync(NopAuditRecorder{}, Operation{Operation: "noop"})
}
