package recommend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rs/zerolog/log"

	"bookcritic/internal/cache"
	"bookcritic/internal/repo"
	"bookcritic/internal/services/llm"
)

const (
	// A book needs this many reviews before its average is trusted by
	// the top-rated shelf.
	topRatedMinReviews = 3
	topRatedMinAverage = 4.0

	favoriteAuthorWeight = 5.0
	favoriteGenreWeight  = 2.0
)

// Service blends several recommendation strategies over a shared
// candidate pool. Every public method returns a possibly-empty book
// list and never an error: failures are logged and degrade to empty
// results, or to the top-rated fallback for the blended entry point.
type Service struct {
	repo  repo.Repository
	cache *cache.RedisCache
	rec   llm.BookRecommender
}

// NewService creates a recommendation Service. cache may be nil (no
// caching) and rec may be nil (LLM strategy disabled).
func NewService(repository repo.Repository, redisCache *cache.RedisCache, rec llm.BookRecommender) *Service {
	return &Service{
		repo:  repository,
		cache: redisCache,
		rec:   rec,
	}
}

// scoredCandidate pairs a book with its affinity score while the
// favorite-based strategy ranks candidates.
type scoredCandidate struct {
	book  repo.Book
	score float64
}

// GetRecommendationsForUser returns up to limit blended
// recommendations for a user. It never fails: orchestration errors
// degrade to the top-rated shelf.
func (s *Service) GetRecommendationsForUser(ctx context.Context, userID string, limit int) []repo.Book {
	if limit <= 0 {
		return nil
	}

	if books, ok := s.cachedBooks(ctx, cache.RecommendationKey(userID, limit)); ok {
		return books
	}

	books, err := s.blend(ctx, userID, limit)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Recommendation blending failed, falling back to top-rated")
		return s.GetTopRatedBooks(ctx, limit, nil)
	}

	s.storeBooks(ctx, cache.RecommendationKey(userID, limit), books, cache.RecommendationTTL)
	return books
}

// blend runs the strategy fan-out and merges the results in priority
// order.
func (s *Service) blend(ctx context.Context, userID string, limit int) ([]repo.Book, error) {
	reviews, err := s.repo.ListReviewsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reviews: %w", err)
	}
	favorites, err := s.repo.ListFavoritesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}

	// No behavioral history at all: serve the universal fallback.
	if len(reviews) == 0 && len(favorites) == 0 {
		return s.GetTopRatedBooks(ctx, limit, nil), nil
	}

	excludeIDs := exclusionSet(reviews, favorites)
	half := (limit + 1) / 2

	// Merge priority: LLM, genre, favorite, top-rated. The first
	// occurrence wins dedup, so the slots are fixed up front.
	results := make([][]repo.Book, 4)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		results[0] = s.GetLLMRecommendations(gctx, userID, limit, excludeIDs)
		return nil
	})
	g.Go(func() error {
		results[1] = s.GetGenreBasedRecommendations(gctx, userID, half, excludeIDs)
		return nil
	})
	g.Go(func() error {
		results[2] = s.GetFavoriteBasedRecommendations(gctx, userID, half, excludeIDs)
		return nil
	})
	g.Go(func() error {
		results[3] = s.GetTopRatedBooks(gctx, half, excludeIDs)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var merged []repo.Book
	for _, batch := range results {
		for _, b := range batch {
			if _, dup := seen[b.ID]; dup {
				continue
			}
			seen[b.ID] = struct{}{}
			merged = append(merged, b)
			if len(merged) >= limit {
				return merged, nil
			}
		}
	}
	return merged, nil
}

// BuildExclusionSet returns the ids of every book the user has already
// reviewed or favorited.
func (s *Service) BuildExclusionSet(ctx context.Context, userID string) []string {
	reviews, err := s.repo.ListReviewsByUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load reviews for exclusion set")
		return nil
	}
	favorites, err := s.repo.ListFavoritesByUser(ctx, userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to load favorites for exclusion set")
		return nil
	}
	return exclusionSet(reviews, favorites)
}

func exclusionSet(reviews []repo.Review, favorites []repo.Favorite) []string {
	set := make(map[string]struct{}, len(reviews)+len(favorites))
	for _, rv := range reviews {
		set[rv.BookID] = struct{}{}
	}
	for _, f := range favorites {
		set[f.BookID] = struct{}{}
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// GetGenreBasedRecommendations recommends books sharing a genre with
// the user's highly-rated reviews, best rated first.
func (s *Service) GetGenreBasedRecommendations(ctx context.Context, userID string, limit int, excludeIDs []string) []repo.Book {
	books, err := s.genreBased(ctx, userID, limit, excludeIDs)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Genre-based recommendations failed")
		return nil
	}
	return books
}

func (s *Service) genreBased(ctx context.Context, userID string, limit int, excludeIDs []string) ([]repo.Book, error) {
	if limit <= 0 {
		return nil, nil
	}

	key := cache.StrategyKey("genre", userID, limit, excludeIDs)
	if books, ok := s.cachedBooks(ctx, key); ok {
		return books, nil
	}

	reviews, err := s.repo.ListReviewsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reviews: %w", err)
	}
	if len(reviews) == 0 {
		return nil, nil
	}

	preferred := ExtractPreferredGenres(reviews)
	if len(preferred) == 0 {
		return nil, nil
	}

	pool, err := s.repo.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate pool: %w", err)
	}

	excluded := toSet(excludeIDs)
	var matches []repo.Book
	for _, b := range pool {
		if _, skip := excluded[b.ID]; skip {
			continue
		}
		if sharesGenre(b, preferred) {
			matches = append(matches, b)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].AverageRating > matches[j].AverageRating
	})

	matches = truncateBooks(matches, limit)
	s.storeBooks(ctx, key, matches, cache.StrategyTTL)
	return matches, nil
}

// GetFavoriteBasedRecommendations scores the candidate pool against
// the user's favorited authors and genres.
func (s *Service) GetFavoriteBasedRecommendations(ctx context.Context, userID string, limit int, excludeIDs []string) []repo.Book {
	books, err := s.favoriteBased(ctx, userID, limit, excludeIDs)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Favorite-based recommendations failed")
		return nil
	}
	return books
}

func (s *Service) favoriteBased(ctx context.Context, userID string, limit int, excludeIDs []string) ([]repo.Book, error) {
	if limit <= 0 {
		return nil, nil
	}

	key := cache.StrategyKey("favorites", userID, limit, excludeIDs)
	if books, ok := s.cachedBooks(ctx, key); ok {
		return books, nil
	}

	favorites, err := s.repo.ListFavoritesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	if len(favorites) == 0 {
		return nil, nil
	}

	favAuthors := make(map[string]struct{})
	favGenres := make(map[string]struct{})
	for _, f := range favorites {
		if f.Book == nil {
			continue
		}
		if f.Book.Author != "" {
			favAuthors[f.Book.Author] = struct{}{}
		}
		for _, g := range f.Book.Genres {
			favGenres[g.ID] = struct{}{}
		}
	}

	pool, err := s.repo.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate pool: %w", err)
	}

	excluded := toSet(excludeIDs)
	var scored []scoredCandidate
	for _, b := range pool {
		if _, skip := excluded[b.ID]; skip {
			continue
		}
		score := b.AverageRating
		if _, ok := favAuthors[b.Author]; ok {
			score += favoriteAuthorWeight
		}
		for _, g := range b.Genres {
			if _, ok := favGenres[g.ID]; ok {
				score += favoriteGenreWeight
			}
		}
		if score > 0 {
			scored = append(scored, scoredCandidate{book: b, score: score})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].score > scored[j].score
	})

	books := make([]repo.Book, 0, len(scored))
	for _, sc := range scored {
		books = append(books, sc.book)
	}

	books = truncateBooks(books, limit)
	s.storeBooks(ctx, key, books, cache.StrategyTTL)
	return books, nil
}

// GetTopRatedBooks returns well-reviewed books: at least
// topRatedMinReviews reviews averaging topRatedMinAverage or better.
// This is the universal fallback shelf.
func (s *Service) GetTopRatedBooks(ctx context.Context, limit int, excludeIDs []string) []repo.Book {
	books, err := s.ratedShelf(ctx, limit, excludeIDs, true)
	if err != nil {
		log.Error().Err(err).Msg("Top-rated books failed")
		return nil
	}
	return books
}

// GetPopularBooks is the relaxed sibling of GetTopRatedBooks: no
// quality filter, ties broken by review count.
func (s *Service) GetPopularBooks(ctx context.Context, limit int, excludeIDs []string) []repo.Book {
	books, err := s.ratedShelf(ctx, limit, excludeIDs, false)
	if err != nil {
		log.Error().Err(err).Msg("Popular books failed")
		return nil
	}
	return books
}

func (s *Service) ratedShelf(ctx context.Context, limit int, excludeIDs []string, qualityFilter bool) ([]repo.Book, error) {
	if limit <= 0 {
		return nil, nil
	}

	if s.cache != nil {
		key := cache.PopularKey(limit, excludeIDs)
		if qualityFilter {
			key = cache.TopRatedKey(limit, excludeIDs)
		}
		data, err := s.cache.GetOrSet(ctx, key, cache.GetTTL(key), func() (interface{}, error) {
			return s.computeShelf(ctx, limit, excludeIDs, qualityFilter)
		})
		if err == nil {
			var books []repo.Book
			if err := json.Unmarshal(data, &books); err == nil {
				return books, nil
			}
		}
		log.Warn().Err(err).Msg("Shelf cache unavailable, computing directly")
	}

	return s.computeShelf(ctx, limit, excludeIDs, qualityFilter)
}

func (s *Service) computeShelf(ctx context.Context, limit int, excludeIDs []string, qualityFilter bool) ([]repo.Book, error) {
	pool, err := s.repo.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate pool: %w", err)
	}

	excluded := toSet(excludeIDs)
	var shelf []repo.Book
	for _, b := range pool {
		if _, skip := excluded[b.ID]; skip {
			continue
		}
		if qualityFilter && (b.TotalReviews < topRatedMinReviews || b.AverageRating < topRatedMinAverage) {
			continue
		}
		shelf = append(shelf, b)
	}

	sort.SliceStable(shelf, func(i, j int) bool {
		if qualityFilter || shelf[i].AverageRating != shelf[j].AverageRating {
			return shelf[i].AverageRating > shelf[j].AverageRating
		}
		return shelf[i].TotalReviews > shelf[j].TotalReviews
	})

	return truncateBooks(shelf, limit), nil
}

// GetSimilarBooks returns other books sharing at least one genre with
// the target, best rated first. A missing book or one without genres
// yields an empty list.
func (s *Service) GetSimilarBooks(ctx context.Context, bookID string, limit int) []repo.Book {
	books, err := s.similar(ctx, bookID, limit)
	if err != nil {
		log.Error().Err(err).Str("book_id", bookID).Msg("Similar books failed")
		return nil
	}
	return books
}

func (s *Service) similar(ctx context.Context, bookID string, limit int) ([]repo.Book, error) {
	if limit <= 0 {
		return nil, nil
	}

	if books, ok := s.cachedBooks(ctx, cache.SimilarKey(bookID, limit)); ok {
		return books, nil
	}

	target, err := s.repo.GetBookByID(ctx, bookID)
	if errors.Is(err, repo.ErrNotFound) {
		log.Warn().Str("book_id", bookID).Msg("Similar books requested for unknown book")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load book: %w", err)
	}

	targetGenres := make(map[string]struct{}, len(target.Genres))
	for _, g := range target.Genres {
		targetGenres[g.ID] = struct{}{}
	}
	if len(targetGenres) == 0 {
		return nil, nil
	}

	pool, err := s.repo.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate pool: %w", err)
	}

	var matches []repo.Book
	for _, b := range pool {
		if b.ID == bookID {
			continue
		}
		if sharesGenre(b, targetGenres) {
			matches = append(matches, b)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].AverageRating > matches[j].AverageRating
	})

	matches = truncateBooks(matches, limit)
	s.storeBooks(ctx, cache.SimilarKey(bookID, limit), matches, cache.SimilarTTL)
	return matches, nil
}

// GetLLMRecommendations delegates selection from the candidate pool to
// the external recommender. Users with no history, a disabled
// recommender, or any client failure all yield an empty list.
func (s *Service) GetLLMRecommendations(ctx context.Context, userID string, limit int, excludeIDs []string) []repo.Book {
	books, err := s.llmBased(ctx, userID, limit, excludeIDs)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("LLM recommendations failed")
		return nil
	}
	return books
}

func (s *Service) llmBased(ctx context.Context, userID string, limit int, excludeIDs []string) ([]repo.Book, error) {
	if limit <= 0 || s.rec == nil {
		return nil, nil
	}

	reviews, err := s.repo.ListReviewsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load reviews: %w", err)
	}
	favorites, err := s.repo.ListFavoritesByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load favorites: %w", err)
	}
	if len(reviews) == 0 && len(favorites) == 0 {
		return nil, nil
	}

	profile := BuildPreferenceProfile(reviews, favorites)

	pool, err := s.repo.ListBooks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load candidate pool: %w", err)
	}

	excluded := toSet(excludeIDs)
	byID := make(map[string]repo.Book, len(pool))
	var candidates []llm.Candidate
	for _, b := range pool {
		if _, skip := excluded[b.ID]; skip {
			continue
		}
		byID[b.ID] = b
		genreNames := make([]string, 0, len(b.Genres))
		for _, g := range b.Genres {
			genreNames = append(genreNames, g.Name)
		}
		description := ""
		if b.Description != nil {
			description = *b.Description
		}
		candidates = append(candidates, llm.Candidate{
			ID:            b.ID,
			Title:         b.Title,
			Author:        b.Author,
			Genres:        genreNames,
			AverageRating: b.AverageRating,
			Description:   description,
		})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	ids, err := s.rec.RecommendBooks(ctx, profile, candidates, limit)
	if err != nil {
		return nil, fmt.Errorf("recommender call failed: %w", err)
	}

	// The recommender validates ids against the candidate list, but an
	// unknown id here must still never surface a foreign book.
	var books []repo.Book
	for _, id := range ids {
		if b, ok := byID[id]; ok {
			books = append(books, b)
		}
	}
	return truncateBooks(books, limit), nil
}

func (s *Service) cachedBooks(ctx context.Context, key string) ([]repo.Book, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, err := s.cache.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	var books []repo.Book
	if err := json.Unmarshal(data, &books); err != nil {
		return nil, false
	}
	return books, true
}

func (s *Service) storeBooks(ctx context.Context, key string, books []repo.Book, ttl time.Duration) {
	if s.cache == nil || books == nil {
		return
	}
	if err := s.cache.Set(ctx, key, books, ttl); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Failed to cache recommendation result")
	}
}

func sharesGenre(b repo.Book, genreIDs map[string]struct{}) bool {
	for _, g := range b.Genres {
		if _, ok := genreIDs[g.ID]; ok {
			return true
		}
	}
	return false
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func truncateBooks(books []repo.Book, limit int) []repo.Book {
	if len(books) > limit {
		return books[:limit]
	}
	return books
}
