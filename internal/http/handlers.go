package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"bookcritic/internal/repo"
	"bookcritic/internal/services/recommend"
)

// RecommendationHandler serves the blended aggregate plus the
// individually addressable strategies.
type RecommendationHandler struct {
	svc          *recommend.Service
	defaultLimit int
	maxLimit     int
}

func NewRecommendationHandler(svc *recommend.Service, defaultLimit, maxLimit int) *RecommendationHandler {
	return &RecommendationHandler{
		svc:          svc,
		defaultLimit: defaultLimit,
		maxLimit:     maxLimit,
	}
}

// RegisterRoutes registers all recommendation routes
func (h *RecommendationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/recommendations", func(r chi.Router) {
			r.Get("/", h.Blended)
			r.Get("/genre", h.GenreBased)
			r.Get("/favorites", h.FavoriteBased)
			r.Get("/top-rated", h.TopRated)
			r.Get("/popular", h.Popular)
			r.Get("/llm", h.LLM)
		})
		r.Get("/books/{id}/similar", h.Similar)
	})
}

// Blended handles the main recommendation endpoint. It always answers
// with a list, possibly shorter than requested, never an error.
func (h *RecommendationHandler) Blended(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit := h.limit(r)

	books := h.svc.GetRecommendationsForUser(r.Context(), userID, limit)
	h.writeBooks(w, books, recommend.MetaInfo{Strategy: "blended", UserID: userID, Limit: limit})
}

func (h *RecommendationHandler) GenreBased(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit := h.limit(r)

	exclude := h.svc.BuildExclusionSet(r.Context(), userID)
	books := h.svc.GetGenreBasedRecommendations(r.Context(), userID, limit, exclude)
	h.writeBooks(w, books, recommend.MetaInfo{Strategy: "genre", UserID: userID, Limit: limit})
}

func (h *RecommendationHandler) FavoriteBased(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit := h.limit(r)

	exclude := h.svc.BuildExclusionSet(r.Context(), userID)
	books := h.svc.GetFavoriteBasedRecommendations(r.Context(), userID, limit, exclude)
	h.writeBooks(w, books, recommend.MetaInfo{Strategy: "favorites", UserID: userID, Limit: limit})
}

func (h *RecommendationHandler) TopRated(w http.ResponseWriter, r *http.Request) {
	limit := h.limit(r)
	books := h.svc.GetTopRatedBooks(r.Context(), limit, nil)
	h.writeBooks(w, books, recommend.MetaInfo{Strategy: "top-rated", Limit: limit})
}

func (h *RecommendationHandler) Popular(w http.ResponseWriter, r *http.Request) {
	limit := h.limit(r)
	books := h.svc.GetPopularBooks(r.Context(), limit, nil)
	h.writeBooks(w, books, recommend.MetaInfo{Strategy: "popular", Limit: limit})
}

func (h *RecommendationHandler) LLM(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}
	limit := h.limit(r)

	exclude := h.svc.BuildExclusionSet(r.Context(), userID)
	books := h.svc.GetLLMRecommendations(r.Context(), userID, limit, exclude)
	h.writeBooks(w, books, recommend.MetaInfo{Strategy: "llm", UserID: userID, Limit: limit})
}

func (h *RecommendationHandler) Similar(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "id")
	if bookID == "" {
		h.writeError(w, http.StatusBadRequest, recommend.ErrCodeValidation, "book id is required")
		return
	}
	limit := h.limit(r)

	books := h.svc.GetSimilarBooks(r.Context(), bookID, limit)
	h.writeBooks(w, books, recommend.MetaInfo{Strategy: "similar", BookID: bookID, Limit: limit})
}

func (h *RecommendationHandler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.writeError(w, http.StatusBadRequest, recommend.ErrCodeValidation, "user_id parameter is required")
		return "", false
	}
	return userID, true
}

// limit parses the limit parameter, clamping to the configured range.
// Unparsable values fall back to the default.
func (h *RecommendationHandler) limit(r *http.Request) int {
	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		return h.defaultLimit
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 {
		return h.defaultLimit
	}
	if limit > h.maxLimit {
		return h.maxLimit
	}
	return limit
}

func (h *RecommendationHandler) writeBooks(w http.ResponseWriter, books []repo.Book, meta recommend.MetaInfo) {
	dtos := recommend.ToBookDTOs(books)
	meta.Total = len(dtos)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(recommend.RecommendationResponse{Books: dtos, Meta: meta}); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

func (h *RecommendationHandler) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(recommend.NewErrorResponse(code, message)); err != nil {
		log.Error().Err(err).Msg("Failed to encode error response")
	}
}
