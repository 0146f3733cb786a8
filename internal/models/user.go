package models

import "time"

const (
	RoleUser      = "user"
	RoleModerator = "moderator"
	RoleAdmin     = "admin"
)

// UserSnapshot — каноническое представление события о пользователе.
// nil-поля означают "не пришло, не трогать", а не "обнулить".
type UserSnapshot struct {
	UserID      int64
	Role        *string
	Permissions []string
	IsActive    *bool
	Name        *string
	LastName    *string
	FullName    *string
	Email       *string
	ImageURL    *string
}

// UserCache — строка локального кеша users_cache.
type UserCache struct {
	UserID      int64     `db:"user_id"`
	Role        string    `db:"role"`
	Permissions []string  `db:"permissions"`
	IsActive    bool      `db:"is_active"`
	Name        *string   `db:"name"`
	LastName    *string   `db:"last_name"`
	FullName    *string   `db:"full_name"`
	Email       *string   `db:"email"`
	ImageURL    *string   `db:"image_url"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func IsElevatedRole(role string) bool {
	return role == RoleAdmin || role == RoleModerator
}
