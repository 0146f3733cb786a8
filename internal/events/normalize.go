package events

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"review_catalog/internal/models"
)

// Таблицы синонимов полей. Продюсеры разных поколений называют одно и то же
// по-разному (idUsuario / userId / user_id); новые варианты добавляются сюда,
// а не в код обработчиков.
var (
	userFieldKeys = map[string][]string{
		"user_id":     {"idUsuario", "userId", "user_id"},
		"full_name":   {"nombre", "fullName", "full_name"},
		"name":        {"name"},
		"last_name":   {"last_name", "lastName"},
		"email":       {"email", "correo"},
		"image_url":   {"imagen", "imageUrl", "image_url"},
		"role":        {"rol", "role"},
		"permissions": {"permissions", "permisos"},
		"is_active":   {"activo", "is_active", "active"},
	}

	movieFieldKeys = map[string][]string{
		"movie_id":     {"id", "idPelicula", "movieId", "movie_id"},
		"title":        {"titulo", "title"},
		"description":  {"sinopsis", "descripcion", "description"},
		"release_date": {"fechaEstreno", "fecha_estreno", "release_date"},
		"duration":     {"duracionMinutos", "duracion", "duration"},
		"poster_url":   {"poster", "posterUrl", "poster_url"},
		"director":     {"director"},
		"genres":       {"generos", "genres", "genre"},
		"is_active":    {"activa", "estado", "active", "is_active"},
	}

	likeFieldKeys = map[string][]string{
		"like_id": {"like_id", "likeId", "id"},
		"review_id": {
			"reviewId", "idReview", "review_id",
			"id_resena", "idResena", "idPublicacion", "publicacionId",
			"target_id",
		},
		"user_id":     {"user_id", "userId", "idUsuario"},
		"created_at":  {"created_at", "timestamp", "fecha"},
		"target_type": {"target_type"},
	}
)

// NormalizeUser приводит полезную нагрузку события о пользователе к
// каноническому снимку. nil — если нет валидного идентификатора.
func NormalizeUser(d map[string]any) *models.UserSnapshot {
	id, ok := pickInt(d, userFieldKeys["user_id"])
	if !ok {
		return nil
	}

	snap := &models.UserSnapshot{
		UserID:      id,
		Role:        pickString(d, userFieldKeys["role"]),
		Permissions: pickStrings(d, userFieldKeys["permissions"]),
		IsActive:    pickBool(d, userFieldKeys["is_active"]),
		Name:        pickString(d, userFieldKeys["name"]),
		LastName:    pickString(d, userFieldKeys["last_name"]),
		FullName:    pickString(d, userFieldKeys["full_name"]),
		Email:       pickString(d, userFieldKeys["email"]),
		ImageURL:    pickString(d, userFieldKeys["image_url"]),
	}

	// имя и фамилия выводятся из полного имени, если не пришли отдельно
	if snap.FullName != nil && snap.Name == nil && snap.LastName == nil {
		snap.Name, snap.LastName = SplitFullName(*snap.FullName)
	}

	// непривилегированной роли права не положены, что бы ни утверждало событие
	if snap.Role == nil || !models.IsElevatedRole(*snap.Role) {
		snap.Permissions = nil
	}

	return snap
}

// SplitFullName: первый токен — имя, остальное — фамилия.
func SplitFullName(full string) (name, lastName *string) {
	parts := strings.Fields(full)
	if len(parts) == 0 {
		return nil, nil
	}
	name = &parts[0]
	if len(parts) > 1 {
		rest := strings.Join(parts[1:], " ")
		lastName = &rest
	}
	return name, lastName
}

// NormalizeMovie приводит событие каталога к каноническому снимку.
func NormalizeMovie(d map[string]any) *models.MovieSnapshot {
	// старый продюсер заворачивает фильм в поле movie
	if m, ok := d["movie"].(map[string]any); ok {
		d = m
	}

	id, ok := pickInt(d, movieFieldKeys["movie_id"])
	if !ok {
		return nil
	}

	snap := &models.MovieSnapshot{
		MovieID:     id,
		Title:       pickString(d, movieFieldKeys["title"]),
		Description: pickString(d, movieFieldKeys["description"]),
		PosterURL:   pickString(d, movieFieldKeys["poster_url"]),
		IsActive:    pickBool(d, movieFieldKeys["is_active"]),
	}

	if n, ok := pickInt(d, movieFieldKeys["duration"]); ok {
		v := int(n)
		snap.Duration = &v
	}

	if rd := pickString(d, movieFieldKeys["release_date"]); rd != nil {
		if t, ok := parseDate(*rd); ok {
			snap.ReleaseDate = &t
			y := t.Year()
			snap.Year = &y
		}
	}

	snap.Director = pickDirector(d)
	snap.Genre = pickGenres(d)

	return snap
}

// LikeEvent — канонический вид события лайка.
type LikeEvent struct {
	LikeID     *string
	ReviewID   string
	UserID     *string
	CreatedAt  time.Time
	TargetType string
}

// NormalizeLike достаёт лайк из события. ReviewID пустой — идентификатора нет.
// envelopeID — id сообщения из конверта: у плоских конвертов без обёртки data
// он лежит в том же объекте, что и полезная нагрузка, и не должен сойти за
// идентификатор лайка.
func NormalizeLike(d map[string]any, envelopeID string) *LikeEvent {
	lk := &LikeEvent{CreatedAt: time.Now().UTC()}

	if v := pickStringish(d, likeFieldKeys["review_id"]); v != nil {
		lk.ReviewID = *v
	}
	lk.UserID = pickStringish(d, likeFieldKeys["user_id"])

	// like_id не должен совпасть ни со значением, которое уже сочли review_id,
	// ни с id самого сообщения
	if v := pickStringish(d, likeFieldKeys["like_id"]); v != nil && *v != lk.ReviewID && (envelopeID == "" || *v != envelopeID) {
		lk.LikeID = v
	}

	if ts := pickString(d, likeFieldKeys["created_at"]); ts != nil {
		if t, ok := parseDate(*ts); ok {
			lk.CreatedAt = t
		}
	}

	lk.TargetType = extractTargetType(d)
	return lk
}

// IsReviewTarget: лайк относится к рецензии, если target_type не указан
// или равен review.
func (lk *LikeEvent) IsReviewTarget() bool {
	return lk.TargetType == "" || lk.TargetType == "review"
}

func extractTargetType(d map[string]any) string {
	if md, ok := d["metadata"].(map[string]any); ok {
		if s := asString(md["target_type"]); s != "" {
			return s
		}
	}
	return asString(d["target_type"])
}

// ---------- извлечение значений по таблице синонимов ----------

func pickRaw(d map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := d[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func pickString(d map[string]any, keys []string) *string {
	v, ok := pickRaw(d, keys)
	if !ok {
		return nil
	}
	s, ok := v.(string)
	if !ok {
		return nil
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// pickStringish принимает и строки, и числа (идентификаторы шлют как попало).
func pickStringish(d map[string]any, keys []string) *string {
	v, ok := pickRaw(d, keys)
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		return &s
	case float64:
		s := strconv.FormatFloat(x, 'f', -1, 64)
		return &s
	case json.Number:
		s := x.String()
		return &s
	}
	return nil
}

// pickInt терпит числа и числовые строки ("187" -> 187).
func pickInt(d map[string]any, keys []string) (int64, bool) {
	v, ok := pickRaw(d, keys)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return int64(x), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	case json.Number:
		n, err := x.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// pickBool принимает только настоящий bool: строки вида "true" у старых
// продюсеров значили что угодно.
func pickBool(d map[string]any, keys []string) *bool {
	v, ok := pickRaw(d, keys)
	if !ok {
		return nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil
	}
	return &b
}

func pickStrings(d map[string]any, keys []string) []string {
	v, ok := pickRaw(d, keys)
	if !ok {
		return nil
	}
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	res := make([]string, 0, len(arr))
	for _, e := range arr {
		if s, ok := e.(string); ok && s != "" {
			res = append(res, s)
		}
	}
	if len(res) == 0 {
		return nil
	}
	return res
}

func pickDirector(d map[string]any) *string {
	v, ok := pickRaw(d, movieFieldKeys["director"])
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		return &s
	case map[string]any:
		if s := asString(x["nombre"]); s != "" {
			return &s
		}
		if s := asString(x["name"]); s != "" {
			return &s
		}
	}
	return nil
}

// pickGenres: массив объектов {nombre}, массив строк или готовая строка.
func pickGenres(d map[string]any) *string {
	v, ok := pickRaw(d, movieFieldKeys["genres"])
	if !ok {
		return nil
	}
	switch x := v.(type) {
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return nil
		}
		return &s
	case []any:
		names := make([]string, 0, len(x))
		for _, e := range x {
			switch g := e.(type) {
			case string:
				if g != "" {
					names = append(names, g)
				}
			case map[string]any:
				if s := asString(g["nombre"]); s != "" {
					names = append(names, s)
				}
			}
		}
		if len(names) == 0 {
			return nil
		}
		joined := strings.Join(names, ", ")
		return &joined
	}
	return nil
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
