package database

// DatabaseSchema is the PostgreSQL schema for the device operation audit log.
// Every statement is idempotent so the whole script can be re-applied when
// MigrationSchemaVersion changes.
const DatabaseSchema = `
CREATE EXTENSION IF NOT EXISTS "pgcrypto";

CREATE TABLE IF NOT EXISTS device_operations (
    id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    request_id TEXT NOT NULL DEFAULT '',
    actor TEXT NOT NULL DEFAULT '',
    device TEXT NOT NULL,
    host TEXT NOT NULL DEFAULT '',
    interface TEXT NOT NULL DEFAULT '',
    operation TEXT NOT NULL,
    success BOOLEAN NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    duration_ms BIGINT NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_device_operations_created_at ON device_operations(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_device_operations_device ON device_operations(device, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_device_operations_request_id ON device_operations(request_id) WHERE request_id <> '';

-- Retention: drop audit rows older than the given number of days
CREATE OR REPLACE FUNCTION cleanup_old_device_operations(retention_days INT)
RETURNS BIGINT AS $$
DECLARE
    removed BIGINT;
BEGIN
    DELETE FROM device_operations
    WHERE created_at < NOW() - make_interval(days => retention_days);
    GET DIAGNOSTICS removed = ROW_COUNT;
    RETURN removed;
END;
$$ LANGUAGE plpgsql;
`
