package usecase

import (
	"context"
	"fmt"
	"time"

	"FinTreasury/internal/domain/models"
	drepo "FinTreasury/internal/domain/repository"
	"FinTreasury/internal/domain/service"
)

const maxJournalRows = 1000

var (
	_ service.Treasury           = (*TreasuryManager)(nil)
	_ service.AuditLog           = (*AuditLog)(nil)
	_ service.RebalanceScheduler = (*RebalanceScheduler)(nil)
)

// AuditLog serves journal rows newest first.
type AuditLog struct {
	journal drepo.Journal
	now     func() time.Time
}

func NewAuditLog(journal drepo.Journal) *AuditLog {
	return &AuditLog{journal: journal, now: time.Now}
}

// Entries returns rows in [from, to]. A zero to means now and a zero from
// means one day before to.
func (a *AuditLog) Entries(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.JournalEntry, error) {
	if to.IsZero() {
		to = a.now()
	}
	if from.IsZero() {
		from = to.Add(-24 * time.Hour)
	}
	if from.After(to) {
		return nil, fmt.Errorf("%w: from %s is after to %s", models.ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if limit <= 0 || limit > maxJournalRows {
		limit = maxJournalRows
	}
	return a.journal.Query(ctx, asset, from, to, limit)
}
