package jobs

import (
	"context"
	"log"
	"time"

	"lens0/internal/database"
)

// AuditRetention purges promotion audit entries older than the
// configured retention window.
type AuditRetention struct {
	audit     *database.AuditDB
	retention time.Duration
}

// NewAuditRetention creates a new audit retention job
func NewAuditRetention(audit *database.AuditDB, retention time.Duration) *AuditRetention {
	return &AuditRetention{audit: audit, retention: retention}
}

// Run deletes audit entries past retention
func (j *AuditRetention) Run(ctx context.Context) error {
	cutoff := time.Now().Add(-j.retention)

	deleted, err := j.audit.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if deleted > 0 {
		log.Printf("🧹 [AUDIT-RETENTION] Purged %d audit entries older than %s", deleted, cutoff.Format(time.RFC3339))
	}
	return nil
}
