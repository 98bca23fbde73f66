package recommend

import "bookcritic/internal/repo"

// BookDTO is the book projection returned to clients.
type BookDTO struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Description   *string  `json:"description,omitempty"`
	Genres        []string `json:"genres"`
	AverageRating float64  `json:"average_rating"`
	TotalReviews  int      `json:"total_reviews"`
}

// RecommendationResponse is the envelope for every recommendation
// endpoint.
type RecommendationResponse struct {
	Books []BookDTO `json:"books"`
	Meta  MetaInfo  `json:"meta"`
}

// MetaInfo describes how a response was produced.
type MetaInfo struct {
	Total    int    `json:"total"`
	Strategy string `json:"strategy"`
	UserID   string `json:"user_id,omitempty"`
	BookID   string `json:"book_id,omitempty"`
	Limit    int    `json:"limit"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorInfo `json:"error"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes
const (
	ErrCodeValidation = "VALIDATION_ERROR"
	ErrCodeNotFound   = "NOT_FOUND"
	ErrCodeInternal   = "INTERNAL_ERROR"
	ErrCodeRateLimit  = "RATE_LIMIT"
	ErrCodeBadRequest = "BAD_REQUEST"
)

// NewErrorResponse creates a new error response
func NewErrorResponse(code, message string) *ErrorResponse {
	return &ErrorResponse{
		Error: ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// ToBookDTO converts a repository book to its client projection.
func ToBookDTO(b repo.Book) BookDTO {
	genres := make([]string, 0, len(b.Genres))
	for _, g := range b.Genres {
		genres = append(genres, g.Name)
	}
	return BookDTO{
		ID:            b.ID,
		Title:         b.Title,
		Author:        b.Author,
		Description:   b.Description,
		Genres:        genres,
		AverageRating: b.AverageRating,
		TotalReviews:  b.TotalReviews,
	}
}

// ToBookDTOs converts a book list, preserving order.
func ToBookDTOs(books []repo.Book) []BookDTO {
	dtos := make([]BookDTO, len(books))
	for i, b := range books {
		dtos[i] = ToBookDTO(b)
	}
	return dtos
}
