package models

import "time"

const (
	ReviewStatusPending  = "pending"
	ReviewStatusApproved = "approved"
	ReviewStatusRejected = "rejected"
)

type Review struct {
	ID          string   `db:"id"`
	MovieID     int64    `db:"movie_id"`
	UserID      int64    `db:"user_id"`
	Title       string   `db:"title"`
	Body        string   `db:"body"`
	Rating      float64  `db:"rating"`
	HasSpoilers bool     `db:"has_spoilers"`
	Tags        []string `db:"tags"`
	Status      string   `db:"status"`
	IsActive    bool     `db:"is_active"`
	EditCount   int      `db:"edit_count"`

	ModeratedAt      *time.Time `db:"moderated_at"`
	ModerationLabel  *string    `db:"moderation_label"`
	ModerationScore  *float64   `db:"moderation_score"`
	ModerationReason *string    `db:"moderation_reason"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// ReviewUpdate — частичное обновление: nil-поля не трогаем.
type ReviewUpdate struct {
	Title       *string
	Body        *string
	Rating      *float64
	HasSpoilers *bool
	Tags        []string
}

type ReviewFilter struct {
	MovieID     *int64
	UserID      *int64
	MinRating   *float64
	MaxRating   *float64
	HasSpoilers *bool
	Status      string
	Limit       int
	Offset      int
}

// ReviewListItem — строка выдачи со счётчиком лайков из likes_cache.
type ReviewListItem struct {
	Review
	LikesCount int `db:"likes_count"`
}
