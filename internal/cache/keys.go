package cache

import (
	"fmt"
	"strings"

	"review_catalog/internal/models"
)

// GET /api/reviews/{id}
// review:data:{id}
func ReviewKey(id string) string {
	return fmt.Sprintf("review:data:%s", strings.TrimSpace(id))
}

// user:data:{user_id}
func UserKey(userID int64) string {
	return fmt.Sprintf("user:data:%d", userID)
}

// movie:data:{movie_id}
func MovieKey(movieID int64) string {
	return fmt.Sprintf("movie:data:%d", movieID)
}

// GET /api/reviews
// reviews:list:{фильтры}
func ReviewListKey(f *models.ReviewFilter) string {
	if f == nil {
		f = &models.ReviewFilter{}
	}

	movie := "all"
	if f.MovieID != nil {
		movie = fmt.Sprintf("%d", *f.MovieID)
	}
	user := "all"
	if f.UserID != nil {
		user = fmt.Sprintf("%d", *f.UserID)
	}
	status := strings.ToLower(strings.TrimSpace(f.Status))
	if status == "" {
		status = "all"
	}

	return fmt.Sprintf("reviews:list:movie=%s:user=%s:status=%s:limit=%d:offset=%d",
		movie, user, status, f.Limit, f.Offset)
}

// Сет всех ключей списков — инвалидация без SCAN.
func ReviewListKeysSet() string {
	return "reviews:list:keys"
}
