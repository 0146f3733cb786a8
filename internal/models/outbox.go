package models

import (
	"encoding/json"
	"time"
)

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
)

// Типы исходящих доменных событий.
const (
	EventReviewNeedsModeration = "ReviewNeedsModeration.v1"
	EventReviewModerated       = "ReviewModerated.v1"

	RKReviewCreated   = "resenas.resena.creada"
	RKReviewUpdated   = "resenas.resena.actualizada"
	RKReviewDeleted   = "resenas.resena.eliminada"
	RKReviewModerated = "resenas.resena.moderada"
)

// OutboxEvent пишется в той же транзакции, что и доменное изменение.
// sent_at остаётся NULL до успешной доставки, поэтому указатель.
type OutboxEvent struct {
	EventID       string          `db:"event_id"` // UUID
	AggregateType string          `db:"aggregate_type"`
	AggregateID   string          `db:"aggregate_id"`
	Type          string          `db:"type"`
	Payload       json.RawMessage `db:"payload"` // JSONB
	Status        string          `db:"status"`
	RetryCount    int             `db:"retry_count"`
	CreatedAt     time.Time       `db:"created_at"`
	SentAt        *time.Time      `db:"sent_at"`
}
