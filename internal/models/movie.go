package models

import "time"

// MovieSnapshot — каноническое представление события каталога фильмов.
type MovieSnapshot struct {
	MovieID     int64
	Title       *string
	Year        *int
	Genre       *string
	Director    *string
	Duration    *int
	PosterURL   *string
	Description *string
	ReleaseDate *time.Time
	IsActive    *bool
}

// MovieCache — строка локального кеша movies_cache.
type MovieCache struct {
	MovieID     int64      `db:"movie_id"`
	Title       *string    `db:"title"`
	Year        *int       `db:"year"`
	Genre       *string    `db:"genre"`
	Director    *string    `db:"director"`
	Duration    *int       `db:"duration"`
	PosterURL   *string    `db:"poster_url"`
	Description *string    `db:"description"`
	ReleaseDate *time.Time `db:"release_date"`
	IsActive    bool       `db:"is_active"`
	UpdatedAt   time.Time  `db:"updated_at"`
}
