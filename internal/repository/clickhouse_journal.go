package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"FinTreasury/internal/domain/models"
	domrepo "FinTreasury/internal/domain/repository"
	pkgch "FinTreasury/pkg/clickhouse"
	applogger "FinTreasury/pkg/logger"
)

var journalColumns = []string{"ts", "batch_id", "command", "asset", "kind", "holder", "target", "amount"}

// JournalSchema returns the DDL for the journal table.
func JournalSchema(table string) []string {
	db := "default"
	if i := strings.IndexByte(table, '.'); i > 0 {
		db = table[:i]
	}
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            ts DateTime64(3, 'UTC'),
            batch_id String,
            command LowCardinality(String),
            asset String,
            kind LowCardinality(String),
            holder String,
            target String,
            amount String
        ) ENGINE = MergeTree
        ORDER BY (asset, ts, batch_id)`, table),
	}
}

// CHJournal implements Journal backed by ClickHouse.
type CHJournal struct {
	ch    *pkgch.Client
	table string
	l     *applogger.Logger
}

func NewCHJournal(ch *pkgch.Client, table string) *CHJournal {
	return &CHJournal{ch: ch, table: table}
}

var _ domrepo.Journal = (*CHJournal)(nil)

// SetLogger injects a structured logger.
func (j *CHJournal) SetLogger(l *applogger.Logger) { j.l = l }

func (j *CHJournal) Init(ctx context.Context) error {
	return j.ch.InitSchema(ctx, JournalSchema(j.table))
}

func (j *CHJournal) Record(ctx context.Context, entries []models.JournalEntry) error {
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []any{e.Timestamp.UTC(), e.BatchID, e.Command, e.Asset, e.Kind, e.Holder, e.Target, e.Amount})
	}
	if err := j.ch.InsertRows(ctx, j.table, journalColumns, rows); err != nil {
		if j.l != nil {
			j.l.Error("clickhouse journal insert error",
				applogger.String("table", j.table),
				applogger.Int("rows", len(rows)),
				applogger.Error(err),
			)
		}
		return fmt.Errorf("record journal: %w", err)
	}
	return nil
}

func (j *CHJournal) Query(ctx context.Context, asset string, from, to time.Time, limit int) ([]models.JournalEntry, error) {
	start := time.Now()
	q := fmt.Sprintf(`
        SELECT ts, batch_id, command, asset, kind, holder, target, amount
        FROM %s
        WHERE ts >= ? AND ts <= ? AND (? = '' OR asset = ?)
        ORDER BY ts DESC, batch_id
        LIMIT ?`, j.table)
	rows, err := j.ch.DB().QueryContext(ctx, q, from.UTC(), to.UTC(), asset, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("query journal: %w", err)
	}
	defer rows.Close()

	out := make([]models.JournalEntry, 0, limit)
	for rows.Next() {
		var e models.JournalEntry
		if err := rows.Scan(&e.Timestamp, &e.BatchID, &e.Command, &e.Asset, &e.Kind, &e.Holder, &e.Target, &e.Amount); err != nil {
			return nil, fmt.Errorf("scan journal: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	if j.l != nil {
		j.l.Debug("clickhouse journal query ok",
			applogger.String("asset", asset),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (j *CHJournal) Health(ctx context.Context) error { return j.ch.Health(ctx) }

func (j *CHJournal) Close() error { return nil }
