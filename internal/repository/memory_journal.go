package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"FinTreasury/internal/domain/models"
	domrepo "FinTreasury/internal/domain/repository"
)

// MemoryJournal keeps journal rows in process, bounded to the newest max rows.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []models.JournalEntry
	max     int
}

func NewMemoryJournal(max int) *MemoryJournal {
	if max <= 0 {
		max = 10000
	}
	return &MemoryJournal{max: max}
}

var _ domrepo.Journal = (*MemoryJournal)(nil)

func (j *MemoryJournal) Init(context.Context) error { return nil }

func (j *MemoryJournal) Record(_ context.Context, entries []models.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entries...)
	if over := len(j.entries) - j.max; over > 0 {
		j.entries = append([]models.JournalEntry(nil), j.entries[over:]...)
	}
	return nil
}

func (j *MemoryJournal) Query(_ context.Context, asset string, from, to time.Time, limit int) ([]models.JournalEntry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()
	out := make([]models.JournalEntry, 0)
	for _, e := range j.entries {
		if asset != "" && e.Asset != asset {
			continue
		}
		if e.Timestamp.Before(from) || e.Timestamp.After(to) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].Timestamp.After(out[b].Timestamp) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (j *MemoryJournal) Health(context.Context) error { return nil }

func (j *MemoryJournal) Close() error { return nil }
