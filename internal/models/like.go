package models

import (
	"encoding/json"
	"time"
)

// LikeRecord — запись likes_cache. LikeID есть только у нового продюсера
// социального сервиса, старый присылает лишь идентификатор рецензии.
type LikeRecord struct {
	LikeID    *string         `db:"like_id"`
	ReviewID  string          `db:"review_id"`
	UserID    *string         `db:"user_id"`
	CreatedAt time.Time       `db:"created_at"`
	RawEvent  json.RawMessage `db:"raw_event"`
}
