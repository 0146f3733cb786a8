package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"review_catalog/internal/models"
	"review_catalog/internal/repository"
	"review_catalog/internal/service"
)

type ReviewHandler struct {
	svc    *service.ReviewService
	outbox *repository.OutboxRepository
}

func NewReviewHandler(svc *service.ReviewService, outbox *repository.OutboxRepository) *ReviewHandler {
	return &ReviewHandler{svc: svc, outbox: outbox}
}

type reviewRequest struct {
	MovieID     int64    `json:"movie_id"`
	UserID      int64    `json:"user_id"`
	Title       string   `json:"title"`
	Body        string   `json:"body"`
	Rating      float64  `json:"rating"`
	HasSpoilers bool     `json:"has_spoilers"`
	Tags        []string `json:"tags"`
}

func (h *ReviewHandler) CreateReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}

	// базовая валидация
	if req.MovieID <= 0 || req.UserID <= 0 || req.Title == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "invalid data")
		return
	}
	if req.Rating < 0 || req.Rating > 10 {
		writeError(w, http.StatusBadRequest, "rating out of range")
		return
	}

	rv := &models.Review{
		MovieID:     req.MovieID,
		UserID:      req.UserID,
		Title:       req.Title,
		Body:        req.Body,
		Rating:      req.Rating,
		HasSpoilers: req.HasSpoilers,
		Tags:        req.Tags,
	}

	created, err := h.svc.Create(r.Context(), rv)
	if err != nil {
		writeRepoError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, created)
}

func (h *ReviewHandler) GetReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	rv, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (h *ReviewHandler) ListReviews(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	items, total, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeRepoError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"items":  items,
		"total":  total,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

func (h *ReviewHandler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	var req struct {
		Title       *string  `json:"title"`
		Body        *string  `json:"body"`
		Rating      *float64 `json:"rating"`
		HasSpoilers *bool    `json:"has_spoilers"`
		Tags        []string `json:"tags"`
	}
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad json")
		return
	}
	if req.Rating != nil && (*req.Rating < 0 || *req.Rating > 10) {
		writeError(w, http.StatusBadRequest, "rating out of range")
		return
	}

	upd := &models.ReviewUpdate{
		Title:       req.Title,
		Body:        req.Body,
		Rating:      req.Rating,
		HasSpoilers: req.HasSpoilers,
		Tags:        req.Tags,
	}

	rv, err := h.svc.Update(r.Context(), id, upd)
	if err != nil {
		writeRepoError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rv)
}

func (h *ReviewHandler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeRepoError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// OutboxStatus — отладочная ручка: сколько строк outbox в каком статусе.
func (h *ReviewHandler) OutboxStatus(w http.ResponseWriter, r *http.Request) {
	counts, err := h.outbox.CountByStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, counts)
}

func parseFilter(r *http.Request) (*models.ReviewFilter, error) {
	q := r.URL.Query()
	f := &models.ReviewFilter{Status: q.Get("status")}

	if v := q.Get("movie_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.New("bad movie_id")
		}
		f.MovieID = &id
	}
	if v := q.Get("user_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.New("bad user_id")
		}
		f.UserID = &id
	}
	if v := q.Get("min_rating"); v != "" {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.New("bad min_rating")
		}
		f.MinRating = &x
	}
	if v := q.Get("max_rating"); v != "" {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.New("bad max_rating")
		}
		f.MaxRating = &x
	}
	if v := q.Get("has_spoilers"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return nil, errors.New("bad has_spoilers")
		}
		f.HasSpoilers = &b
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.New("bad limit")
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, errors.New("bad offset")
		}
		f.Offset = n
	}
	return f, nil
}

// writeRepoError транслирует ошибки хранилища в HTTP-коды.
func writeRepoError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	case errors.Is(err, repository.ErrBadReference):
		writeError(w, http.StatusConflict, "referenced entity does not exist")
	case errors.Is(err, repository.ErrMissingField):
		writeError(w, http.StatusBadRequest, "missing required field")
	case errors.Is(err, repository.ErrConstraint):
		writeError(w, http.StatusBadRequest, "constraint violated")
	default:
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return err
	}

	// Запрещаем второй JSON-объект в body
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("only one JSON object is allowed")
	}

	return nil
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
