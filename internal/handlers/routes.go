package handlers

import "github.com/go-chi/chi/v5"

func RegisterReviewRoutes(r chi.Router, h *ReviewHandler) {
	r.Route("/api/reviews", func(r chi.Router) {
		r.Post("/", h.CreateReview)
		r.Get("/", h.ListReviews)
		r.Get("/{id}", h.GetReview)
		r.Patch("/{id}", h.UpdateReview)
		r.Delete("/{id}", h.DeleteReview)
	})
	r.Get("/debug/outbox", h.OutboxStatus)
}
