package recommend

import (
	"context"
	"fmt"
	"testing"

	"bookcritic/internal/repo"
	"bookcritic/internal/services/llm"
)

type fakeRepo struct {
	books     []repo.Book
	reviews   map[string][]repo.Review
	favorites map[string][]repo.Favorite

	booksErr     error
	reviewsErr   error
	favoritesErr error
}

func (f *fakeRepo) Migrate(ctx context.Context) error { return nil }

func (f *fakeRepo) ListBooks(ctx context.Context) ([]repo.Book, error) {
	if f.booksErr != nil {
		return nil, f.booksErr
	}
	return f.books, nil
}

func (f *fakeRepo) GetBookByID(ctx context.Context, id string) (repo.Book, error) {
	for _, b := range f.books {
		if b.ID == id {
			return b, nil
		}
	}
	return repo.Book{}, repo.ErrNotFound
}

func (f *fakeRepo) ListReviewsByUser(ctx context.Context, userID string) ([]repo.Review, error) {
	if f.reviewsErr != nil {
		return nil, f.reviewsErr
	}
	return f.reviews[userID], nil
}

func (f *fakeRepo) ListFavoritesByUser(ctx context.Context, userID string) ([]repo.Favorite, error) {
	if f.favoritesErr != nil {
		return nil, f.favoritesErr
	}
	return f.favorites[userID], nil
}

func (f *fakeRepo) CreateGenre(ctx context.Context, arg repo.CreateGenreParams) (repo.Genre, error) {
	return repo.Genre{}, nil
}

func (f *fakeRepo) CreateBook(ctx context.Context, arg repo.CreateBookParams) (repo.Book, error) {
	return repo.Book{}, nil
}

func (f *fakeRepo) CreateReview(ctx context.Context, arg repo.CreateReviewParams) (repo.Review, error) {
	return repo.Review{}, nil
}

func (f *fakeRepo) CreateFavorite(ctx context.Context, arg repo.CreateFavoriteParams) (repo.Favorite, error) {
	return repo.Favorite{}, nil
}

type fakeRecommender struct {
	ids   []string
	err   error
	calls int

	gotPrefs      llm.PreferenceProfile
	gotCandidates []llm.Candidate
	gotLimit      int
}

func (f *fakeRecommender) RecommendBooks(ctx context.Context, prefs llm.PreferenceProfile, candidates []llm.Candidate, limit int) ([]string, error) {
	f.calls++
	f.gotPrefs = prefs
	f.gotCandidates = candidates
	f.gotLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	return f.ids, nil
}

var (
	fiction = repo.Genre{ID: "g-fic", Name: "Fiction"}
	mystery = repo.Genre{ID: "g-mys", Name: "Mystery"}
	history = repo.Genre{ID: "g-his", Name: "History"}
)

func poolBook(id, author string, avg float64, total int, genres ...repo.Genre) repo.Book {
	return repo.Book{
		ID:            id,
		Title:         "Title " + id,
		Author:        author,
		Genres:        genres,
		AverageRating: avg,
		TotalReviews:  total,
	}
}

func bookIDs(books []repo.Book) []string {
	ids := make([]string, len(books))
	for i, b := range books {
		ids[i] = b.ID
	}
	return ids
}

func assertNoID(t *testing.T, books []repo.Book, id string) {
	t.Helper()
	for _, b := range books {
		if b.ID == id {
			t.Errorf("book %s must not appear in %v", id, bookIDs(books))
		}
	}
}

func assertNoDuplicates(t *testing.T, books []repo.Book) {
	t.Helper()
	seen := make(map[string]struct{})
	for _, b := range books {
		if _, dup := seen[b.ID]; dup {
			t.Errorf("duplicate book %s in %v", b.ID, bookIDs(books))
		}
		seen[b.ID] = struct{}{}
	}
}

func TestGenreBasedScenario(t *testing.T) {
	// User reviewed book A (rating 5, Fiction); expect Fiction books
	// excluding A, best rated first.
	bookA := poolBook("a", "x", 4.0, 1, fiction)
	f := &fakeRepo{
		books: []repo.Book{
			bookA,
			poolBook("b", "x", 4.5, 2, fiction),
			poolBook("c", "x", 4.9, 2, fiction),
			poolBook("d", "x", 5.0, 2, history),
		},
		reviews: map[string][]repo.Review{
			"u": {{UserID: "u", BookID: "a", Rating: 5, Book: &bookA}},
		},
	}
	svc := NewService(f, nil, nil)

	got := svc.GetGenreBasedRecommendations(context.Background(), "u", 10, []string{"a"})
	want := []string{"c", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, bookIDs(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestGenreBasedNoReviews(t *testing.T) {
	f := &fakeRepo{books: []repo.Book{poolBook("a", "x", 5, 5, fiction)}}
	svc := NewService(f, nil, nil)

	if got := svc.GetGenreBasedRecommendations(context.Background(), "u", 10, nil); len(got) != 0 {
		t.Errorf("expected empty result for user without reviews, got %v", bookIDs(got))
	}
}

func TestGenreBasedNoPreferredGenres(t *testing.T) {
	bookA := poolBook("a", "x", 4.0, 1, fiction)
	f := &fakeRepo{
		books: []repo.Book{bookA, poolBook("b", "x", 4.5, 2, fiction)},
		reviews: map[string][]repo.Review{
			"u": {{UserID: "u", BookID: "a", Rating: 3, Book: &bookA}},
		},
	}
	svc := NewService(f, nil, nil)

	if got := svc.GetGenreBasedRecommendations(context.Background(), "u", 10, nil); len(got) != 0 {
		t.Errorf("expected empty result when no review clears the threshold, got %v", bookIDs(got))
	}
}

func TestGenreBasedStorageFailure(t *testing.T) {
	bookA := poolBook("a", "x", 4.0, 1, fiction)
	f := &fakeRepo{
		booksErr: fmt.Errorf("connection refused"),
		reviews: map[string][]repo.Review{
			"u": {{UserID: "u", BookID: "a", Rating: 5, Book: &bookA}},
		},
	}
	svc := NewService(f, nil, nil)

	if got := svc.GetGenreBasedRecommendations(context.Background(), "u", 10, nil); len(got) != 0 {
		t.Errorf("storage failures must degrade to empty, got %v", bookIDs(got))
	}
}

func TestFavoriteBasedScoring(t *testing.T) {
	fav := poolBook("fav", "Ann", 4.0, 2, fiction)
	f := &fakeRepo{
		books: []repo.Book{
			poolBook("byAuthor", "Ann", 1.0, 1, history),        // 5 + 1.0 = 6.0
			poolBook("byGenre", "Pat", 2.0, 1, fiction),         // 2 + 2.0 = 4.0
			poolBook("byBoth", "Ann", 0.5, 1, fiction, mystery), // 5 + 2 + 0.5 = 7.5
			poolBook("unrated", "Sam", 0, 0, history),           // 0, dropped
		},
		favorites: map[string][]repo.Favorite{
			"u": {{UserID: "u", BookID: "fav", Book: &fav}},
		},
	}
	svc := NewService(f, nil, nil)

	got := svc.GetFavoriteBasedRecommendations(context.Background(), "u", 10, nil)
	want := []string{"byBoth", "byAuthor", "byGenre"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, bookIDs(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestFavoriteBasedNoFavorites(t *testing.T) {
	f := &fakeRepo{books: []repo.Book{poolBook("a", "x", 5, 5, fiction)}}
	svc := NewService(f, nil, nil)

	if got := svc.GetFavoriteBasedRecommendations(context.Background(), "u", 10, nil); len(got) != 0 {
		t.Errorf("expected empty result for user without favorites, got %v", bookIDs(got))
	}
}

func TestFavoriteBasedExclusion(t *testing.T) {
	fav := poolBook("fav", "Ann", 4.0, 2, fiction)
	f := &fakeRepo{
		books: []repo.Book{
			poolBook("keep", "Ann", 4.0, 2, fiction),
			poolBook("skip", "Ann", 5.0, 5, fiction),
		},
		favorites: map[string][]repo.Favorite{
			"u": {{UserID: "u", BookID: "fav", Book: &fav}},
		},
	}
	svc := NewService(f, nil, nil)

	got := svc.GetFavoriteBasedRecommendations(context.Background(), "u", 10, []string{"skip"})
	assertNoID(t, got, "skip")
	if len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("expected [keep], got %v", bookIDs(got))
	}
}

func TestTopRatedQualityThreshold(t *testing.T) {
	f := &fakeRepo{
		books: []repo.Book{
			poolBook("fewReviews", "x", 5.0, 2, fiction),    // high average, too few reviews
			poolBook("lowAverage", "x", 3.9, 10, fiction),   // enough reviews, low average
			poolBook("qualifies", "x", 4.2, 3, fiction),
		},
	}
	svc := NewService(f, nil, nil)

	top := svc.GetTopRatedBooks(context.Background(), 10, nil)
	if len(top) != 1 || top[0].ID != "qualifies" {
		t.Errorf("expected only [qualifies] on the top-rated shelf, got %v", bookIDs(top))
	}

	popular := svc.GetPopularBooks(context.Background(), 10, nil)
	if len(popular) != 3 {
		t.Errorf("popular shelf must not apply the quality filter, got %v", bookIDs(popular))
	}
	if popular[0].ID != "fewReviews" {
		t.Errorf("popular shelf sorts by rating first, got %v", bookIDs(popular))
	}
}

func TestPopularTieBreakByReviewCount(t *testing.T) {
	f := &fakeRepo{
		books: []repo.Book{
			poolBook("lessRead", "x", 4.5, 2, fiction),
			poolBook("moreRead", "x", 4.5, 20, fiction),
		},
	}
	svc := NewService(f, nil, nil)

	got := svc.GetPopularBooks(context.Background(), 10, nil)
	if len(got) != 2 || got[0].ID != "moreRead" {
		t.Errorf("expected review count to break rating ties, got %v", bookIDs(got))
	}
}

func TestShelvesHonorExclusionsAndLimit(t *testing.T) {
	f := &fakeRepo{
		books: []repo.Book{
			poolBook("a", "x", 5.0, 5, fiction),
			poolBook("b", "x", 4.8, 5, fiction),
			poolBook("c", "x", 4.6, 5, fiction),
		},
	}
	svc := NewService(f, nil, nil)

	got := svc.GetTopRatedBooks(context.Background(), 1, []string{"a"})
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("expected [b], got %v", bookIDs(got))
	}

	if got := svc.GetTopRatedBooks(context.Background(), 0, nil); len(got) != 0 {
		t.Errorf("limit 0 must yield an empty list, got %v", bookIDs(got))
	}
}

func TestSimilarBooks(t *testing.T) {
	f := &fakeRepo{
		books: []repo.Book{
			poolBook("target", "x", 4.0, 3, fiction),
			poolBook("close", "x", 4.2, 3, fiction),
			poolBook("closer", "x", 4.8, 3, fiction, mystery),
			poolBook("unrelated", "x", 5.0, 9, history),
		},
	}
	svc := NewService(f, nil, nil)

	got := svc.GetSimilarBooks(context.Background(), "target", 10)
	assertNoID(t, got, "target")
	want := []string{"closer", "close"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, bookIDs(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}
}

func TestSimilarBooksUnknownBook(t *testing.T) {
	f := &fakeRepo{books: []repo.Book{poolBook("a", "x", 4.0, 3, fiction)}}
	svc := NewService(f, nil, nil)

	if got := svc.GetSimilarBooks(context.Background(), "missing", 10); len(got) != 0 {
		t.Errorf("expected empty result for unknown book, got %v", bookIDs(got))
	}
}

func TestSimilarBooksNoGenres(t *testing.T) {
	f := &fakeRepo{
		books: []repo.Book{
			poolBook("bare", "x", 4.0, 3),
			poolBook("other", "x", 5.0, 9, fiction),
		},
	}
	svc := NewService(f, nil, nil)

	if got := svc.GetSimilarBooks(context.Background(), "bare", 10); len(got) != 0 {
		t.Errorf("expected empty result for book without genres, got %v", bookIDs(got))
	}
}

func TestLLMRecommendationsNoHistory(t *testing.T) {
	rec := &fakeRecommender{ids: []string{"a"}}
	f := &fakeRepo{books: []repo.Book{poolBook("a", "x", 4.0, 3, fiction)}}
	svc := NewService(f, nil, rec)

	if got := svc.GetLLMRecommendations(context.Background(), "u", 10, nil); len(got) != 0 {
		t.Errorf("expected empty result without history, got %v", bookIDs(got))
	}
	if rec.calls != 0 {
		t.Error("recommender must not be called without preference signal")
	}
}

func TestLLMRecommendationsCandidateIntegrity(t *testing.T) {
	read := poolBook("read", "x", 4.0, 3, fiction)
	f := &fakeRepo{
		books: []repo.Book{read, poolBook("a", "x", 4.0, 3, fiction), poolBook("b", "x", 4.5, 3, fiction)},
		reviews: map[string][]repo.Review{
			"u": {{UserID: "u", BookID: "read", Rating: 5, Book: &read}},
		},
	}
	rec := &fakeRecommender{ids: []string{"foreign", "b"}}
	svc := NewService(f, nil, rec)

	got := svc.GetLLMRecommendations(context.Background(), "u", 10, []string{"read"})
	if len(got) != 1 || got[0].ID != "b" {
		t.Errorf("foreign ids must be dropped, got %v", bookIDs(got))
	}

	for _, c := range rec.gotCandidates {
		if c.ID == "read" {
			t.Error("excluded book leaked into the candidate pool")
		}
	}
	if rec.gotLimit != 10 {
		t.Errorf("expected limit 10 passed through, got %d", rec.gotLimit)
	}
}

func TestLLMRecommendationsClientFailure(t *testing.T) {
	read := poolBook("read", "x", 4.0, 3, fiction)
	f := &fakeRepo{
		books: []repo.Book{read, poolBook("a", "x", 4.0, 3, fiction)},
		reviews: map[string][]repo.Review{
			"u": {{UserID: "u", BookID: "read", Rating: 5, Book: &read}},
		},
	}
	rec := &fakeRecommender{err: fmt.Errorf("timeout")}
	svc := NewService(f, nil, rec)

	if got := svc.GetLLMRecommendations(context.Background(), "u", 10, nil); len(got) != 0 {
		t.Errorf("recommender failure must degrade to empty, got %v", bookIDs(got))
	}
}

func TestLLMRecommendationsDisabled(t *testing.T) {
	read := poolBook("read", "x", 4.0, 3, fiction)
	f := &fakeRepo{
		books: []repo.Book{read},
		reviews: map[string][]repo.Review{
			"u": {{UserID: "u", BookID: "read", Rating: 5, Book: &read}},
		},
	}
	svc := NewService(f, nil, nil)

	if got := svc.GetLLMRecommendations(context.Background(), "u", 10, nil); len(got) != 0 {
		t.Errorf("disabled recommender must yield empty, got %v", bookIDs(got))
	}
}

func aggregatorFixture() (*fakeRepo, *fakeRecommender) {
	reviewed := poolBook("reviewed", "x", 4.8, 5, fiction)
	favorited := poolBook("favorited", "Ann", 4.5, 4)
	f := &fakeRepo{
		books: []repo.Book{
			reviewed,
			favorited,
			poolBook("b1", "Pat", 5.0, 5, fiction),
			poolBook("b2", "Pat", 4.2, 3, fiction),
			poolBook("b3", "Ann", 3.0, 2, history),
			poolBook("b4", "Sam", 4.9, 10, history),
		},
		reviews: map[string][]repo.Review{
			"u": {{UserID: "u", BookID: "reviewed", Rating: 5, Book: &reviewed}},
		},
		favorites: map[string][]repo.Favorite{
			"u": {{UserID: "u", BookID: "favorited", Book: &favorited}},
		},
	}
	return f, &fakeRecommender{ids: []string{"b2"}}
}

func TestAggregatorPriorityAndDedup(t *testing.T) {
	f, rec := aggregatorFixture()
	svc := NewService(f, nil, rec)

	got := svc.GetRecommendationsForUser(context.Background(), "u", 10)

	assertNoDuplicates(t, got)
	assertNoID(t, got, "reviewed")
	assertNoID(t, got, "favorited")

	if len(got) == 0 || got[0].ID != "b2" {
		t.Fatalf("LLM pick must lead the blend, got %v", bookIDs(got))
	}
}

func TestAggregatorSizeLaw(t *testing.T) {
	f, rec := aggregatorFixture()
	svc := NewService(f, nil, rec)

	for _, limit := range []int{0, 1, 2, 3, 10} {
		got := svc.GetRecommendationsForUser(context.Background(), "u", limit)
		if len(got) > limit {
			t.Errorf("limit %d: got %d books", limit, len(got))
		}
	}
}

func TestAggregatorFallbackTotality(t *testing.T) {
	f, rec := aggregatorFixture()
	svc := NewService(f, nil, rec)

	got := svc.GetRecommendationsForUser(context.Background(), "ghost", 4)
	want := svc.GetTopRatedBooks(context.Background(), 4, nil)

	if len(got) != len(want) {
		t.Fatalf("expected the top-rated shelf %v, got %v", bookIDs(want), bookIDs(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("position %d: expected %s, got %s", i, want[i].ID, got[i].ID)
		}
	}
	if rec.calls != 0 {
		t.Error("no-signal path must not reach the recommender")
	}
}

func TestAggregatorOrchestrationFailure(t *testing.T) {
	f, rec := aggregatorFixture()
	f.reviewsErr = fmt.Errorf("storage down")
	svc := NewService(f, nil, rec)

	got := svc.GetRecommendationsForUser(context.Background(), "u", 3)
	want := svc.GetTopRatedBooks(context.Background(), 3, nil)

	if len(got) != len(want) {
		t.Fatalf("expected top-rated fallback %v, got %v", bookIDs(want), bookIDs(got))
	}
	for i := range want {
		if got[i].ID != want[i].ID {
			t.Errorf("position %d: expected %s, got %s", i, want[i].ID, got[i].ID)
		}
	}
}

func TestEmptyCandidatePool(t *testing.T) {
	read := poolBook("read", "x", 4.0, 3, fiction)
	f := &fakeRepo{
		reviews: map[string][]repo.Review{
			"u": {{UserID: "u", BookID: "read", Rating: 5, Book: &read}},
		},
	}
	rec := &fakeRecommender{ids: []string{"read"}}
	svc := NewService(f, nil, rec)

	ctx := context.Background()
	if got := svc.GetGenreBasedRecommendations(ctx, "u", 10, nil); len(got) != 0 {
		t.Errorf("genre strategy: expected empty, got %v", bookIDs(got))
	}
	if got := svc.GetFavoriteBasedRecommendations(ctx, "u", 10, nil); len(got) != 0 {
		t.Errorf("favorite strategy: expected empty, got %v", bookIDs(got))
	}
	if got := svc.GetTopRatedBooks(ctx, 10, nil); len(got) != 0 {
		t.Errorf("top-rated: expected empty, got %v", bookIDs(got))
	}
	if got := svc.GetPopularBooks(ctx, 10, nil); len(got) != 0 {
		t.Errorf("popular: expected empty, got %v", bookIDs(got))
	}
	if got := svc.GetLLMRecommendations(ctx, "u", 10, nil); len(got) != 0 {
		t.Errorf("llm strategy: expected empty, got %v", bookIDs(got))
	}
	if got := svc.GetRecommendationsForUser(ctx, "u", 10); len(got) != 0 {
		t.Errorf("aggregate: expected empty, got %v", bookIDs(got))
	}
}

func TestBuildExclusionSet(t *testing.T) {
	f, _ := aggregatorFixture()
	svc := NewService(f, nil, nil)

	got := svc.BuildExclusionSet(context.Background(), "u")
	if len(got) != 2 {
		t.Fatalf("expected two excluded ids, got %v", got)
	}
	if got[0] != "favorited" || got[1] != "reviewed" {
		t.Errorf("expected sorted [favorited reviewed], got %v", got)
	}
}
