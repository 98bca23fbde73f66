package llm

import (
	"context"
)

// PreferenceProfile summarizes a user's demonstrated taste. Fields are
// deduplicated; ordering is insignificant.
type PreferenceProfile struct {
	FavoriteGenres  []string `json:"favorite_genres"`
	FavoriteAuthors []string `json:"favorite_authors"`
	RecentlyRead    []string `json:"recently_read"`
	HighlyRated     []string `json:"highly_rated"`
}

// Candidate is the compact book projection sent to the external
// service. Descriptions are truncated before serialization to bound
// payload size.
type Candidate struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Author        string   `json:"author"`
	Genres        []string `json:"genres"`
	AverageRating float64  `json:"average_rating"`
	Description   string   `json:"description,omitempty"`
}

// Client is the raw text-generation capability behind the recommender.
type Client interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// BookRecommender asks an external model to pick books from a
// candidate pool. Implementations never return an id that was not in
// the candidate list.
type BookRecommender interface {
	RecommendBooks(ctx context.Context, prefs PreferenceProfile, candidates []Candidate, limit int) ([]string, error)
}
