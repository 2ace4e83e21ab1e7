package services

import (
	"context"
	"log"
	"time"
)

// StartCleanupService purges old audit rows now and then every 24 hours,
// until ctx is cancelled. retentionDays <= 0 disables it.
func StartCleanupService(ctx context.Context, db Database, retentionDays int) {
	if db == nil || retentionDays <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		RunCleanupTasks(ctx, db, retentionDays)

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				RunCleanupTasks(ctx, db, retentionDays)
			}
		}
	}()
}

// RunCleanupTasks deletes audit rows older than retentionDays
func RunCleanupTasks(ctx context.Context, db Database, retentionDays int) {
	log.Println("🧹 Running scheduled cleanup tasks...")

	var removed int64
	if err := db.QueryRow(ctx, "SELECT cleanup_old_device_operations($1)", retentionDays).Scan(&removed); err != nil {
		log.Printf("⚠️ Failed to clean up old device operations: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("🗑️ Deleted %d device operations older than %d days", removed, retentionDays)
	}

	log.Println("🎯 Cleanup tasks completed successfully")
}
