package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	audit "intakehub/pkg/platform/audit"
	txcontext "intakehub/pkg/platform/tx"
)

// Store implements audit.Store on PostgreSQL. Every entry is written to
// audit_entries and to the outbox in the same transaction; the outbox relay
// forwards it to Kafka for downstream SIEM consumers.
type Store struct {
	db *sql.DB
}

// New creates a new PostgreSQL audit store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// outboxPayload is the JSON published to Kafka.
type outboxPayload struct {
	ID           string            `json:"id"`
	ActorID      string            `json:"actor_id"`
	ActorRole    string            `json:"actor_role,omitempty"`
	Action       string            `json:"action"`
	ResourceType string            `json:"resource_type"`
	ResourceID   string            `json:"resource_id,omitempty"`
	DistrictCode string            `json:"district_code,omitempty"`
	ClientIP     string            `json:"client_ip,omitempty"`
	RequestID    string            `json:"request_id,omitempty"`
	Detail       map[string]string `json:"detail,omitempty"`
	CreatedAt    string            `json:"created_at"`
}

// Append writes the entry and its outbox row atomically.
func (s *Store) Append(ctx context.Context, entry audit.Entry) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	detail, err := json.Marshal(entry.Detail)
	if err != nil {
		return fmt.Errorf("marshal audit detail: %w", err)
	}
	payload, err := json.Marshal(outboxPayload{
		ID:           entry.ID.String(),
		ActorID:      entry.ActorID,
		ActorRole:    entry.ActorRole,
		Action:       string(entry.Action),
		ResourceType: entry.ResourceType,
		ResourceID:   entry.ResourceID,
		DistrictCode: entry.DistrictCode,
		ClientIP:     entry.ClientIP,
		RequestID:    entry.RequestID,
		Detail:       entry.Detail,
		CreatedAt:    entry.CreatedAt.Format(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("marshal audit payload: %w", err)
	}

	return txcontext.Run(ctx, s.db, 0, func(ctx context.Context) error {
		exec := txcontext.Pick(ctx, s.db)
		_, err := exec.ExecContext(ctx, `
			INSERT INTO audit_entries (
				id, actor_id, actor_role, action, resource_type, resource_id,
				district_code, client_ip, user_agent, device, request_id, detail, created_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			entry.ID,
			entry.ActorID,
			entry.ActorRole,
			string(entry.Action),
			entry.ResourceType,
			entry.ResourceID,
			entry.DistrictCode,
			entry.ClientIP,
			entry.UserAgent,
			entry.Device,
			entry.RequestID,
			detail,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert audit entry: %w", err)
		}

		_, err = exec.ExecContext(ctx, `
			INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			uuid.New(),
			entry.ResourceType,
			entry.ResourceID,
			string(entry.Action),
			payload,
			entry.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("insert outbox entry: %w", err)
		}
		return nil
	})
}

const selectColumns = `
	SELECT id, actor_id, actor_role, action, resource_type, resource_id,
		   district_code, client_ip, user_agent, device, request_id, detail, created_at
	FROM audit_entries`

// ListByResource returns entries for one resource, oldest first.
func (s *Store) ListByResource(ctx context.Context, resourceType, resourceID string) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		WHERE resource_type = $1 AND resource_id = $2
		ORDER BY created_at ASC`, resourceType, resourceID)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	return scanEntries(rows)
}

// ListRecent returns the newest entries across all resources.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]audit.Entry, error) {
	rows, err := s.db.QueryContext(ctx, selectColumns+`
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent audit entries: %w", err)
	}
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	defer rows.Close()

	var entries []audit.Entry
	for rows.Next() {
		var (
			e      audit.Entry
			action string
			detail []byte
		)
		if err := rows.Scan(
			&e.ID, &e.ActorID, &e.ActorRole, &action, &e.ResourceType, &e.ResourceID,
			&e.DistrictCode, &e.ClientIP, &e.UserAgent, &e.Device, &e.RequestID, &detail, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = audit.Action(action)
		if len(detail) > 0 {
			if err := json.Unmarshal(detail, &e.Detail); err != nil {
				return nil, fmt.Errorf("unmarshal audit detail: %w", err)
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}
