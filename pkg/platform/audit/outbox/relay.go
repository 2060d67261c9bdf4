// Package outbox relays committed audit entries from the outbox table to a
// message topic. Delivery is at-least-once; consumers dedupe on entry id.
package outbox

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	txcontext "intakehub/pkg/platform/tx"
)

// Publisher delivers one message synchronously.
type Publisher interface {
	PublishSync(ctx context.Context, topic string, key, value []byte) error
}

// Relay polls unpublished outbox rows and forwards them.
type Relay struct {
	db        *sql.DB
	publisher Publisher
	topic     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
}

// New constructs a relay.
func New(db *sql.DB, publisher Publisher, topic string, logger *slog.Logger) *Relay {
	return &Relay{
		db:        db,
		publisher: publisher,
		topic:     topic,
		batchSize: 100,
		interval:  2 * time.Second,
		logger:    logger,
	}
}

// Run relays until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := r.RelayOnce(ctx)
			if err != nil {
				r.logger.WarnContext(ctx, "audit outbox relay failed", "error", err)
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "audit outbox relayed", "count", n)
			}
		}
	}
}

type row struct {
	id      uuid.UUID
	key     string
	payload []byte
}

// RelayOnce forwards one batch. Rows are locked with SKIP LOCKED so several
// replicas can run the relay concurrently.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	var relayed int
	err := txcontext.Run(ctx, r.db, 30*time.Second, func(ctx context.Context) error {
		exec := txcontext.Pick(ctx, r.db)
		rows, err := exec.QueryContext(ctx, `
			SELECT id, aggregate_id, payload
			FROM outbox
			WHERE published_at IS NULL
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED`, r.batchSize)
		if err != nil {
			return fmt.Errorf("select outbox rows: %w", err)
		}
		var batch []row
		for rows.Next() {
			var rw row
			if err := rows.Scan(&rw.id, &rw.key, &rw.payload); err != nil {
				rows.Close()
				return fmt.Errorf("scan outbox row: %w", err)
			}
			batch = append(batch, rw)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return fmt.Errorf("iterate outbox rows: %w", err)
		}

		for _, rw := range batch {
			if err := r.publisher.PublishSync(ctx, r.topic, []byte(rw.key), rw.payload); err != nil {
				return fmt.Errorf("publish outbox row %s: %w", rw.id, err)
			}
			if _, err := exec.ExecContext(ctx,
				`UPDATE outbox SET published_at = NOW() WHERE id = $1`, rw.id); err != nil {
				return fmt.Errorf("mark outbox row published: %w", err)
			}
			relayed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return relayed, nil
}
