package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a single-entity lookup matches nothing.
var ErrNotFound = errors.New("not found")

// DB represents a database connection
type DB struct {
	pool *pgxpool.Pool
}

// NewDB creates a new database connection pool and verifies it.
func NewDB(ctx context.Context, databaseURL string) (*DB, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Genre represents a book genre
type Genre struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Book represents a book with its genre relations and aggregate rating
// fields fully materialized. AverageRating is 0 when a book has no
// reviews; the default is applied here, not in scoring code.
type Book struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Author        string  `json:"author"`
	Description   *string `json:"description"`
	Genres        []Genre `json:"genres"`
	AverageRating float64 `json:"average_rating"`
	TotalReviews  int     `json:"total_reviews"`
}

// Review represents a user's review of a book, with the book expanded.
type Review struct {
	ID      string  `json:"id"`
	UserID  string  `json:"user_id"`
	BookID  string  `json:"book_id"`
	Rating  int     `json:"rating"`
	Content *string `json:"content"`
	Book    *Book   `json:"book"`
}

// Favorite represents a user's favorited book, with the book expanded.
type Favorite struct {
	UserID string `json:"user_id"`
	BookID string `json:"book_id"`
	Book   *Book  `json:"book"`
}

// Parameter structs for writes
type CreateGenreParams struct {
	ID   string
	Name string
}

type CreateBookParams struct {
	ID          string
	Title       string
	Author      string
	Description *string
	GenreIDs    []string
}

type CreateReviewParams struct {
	ID      string
	UserID  string
	BookID  string
	Rating  int
	Content *string
}

type CreateFavoriteParams struct {
	UserID string
	BookID string
}

// Repository interface for database operations
type Repository interface {
	Migrate(ctx context.Context) error
	ListBooks(ctx context.Context) ([]Book, error)
	GetBookByID(ctx context.Context, id string) (Book, error)
	ListReviewsByUser(ctx context.Context, userID string) ([]Review, error)
	ListFavoritesByUser(ctx context.Context, userID string) ([]Favorite, error)
	CreateGenre(ctx context.Context, arg CreateGenreParams) (Genre, error)
	CreateBook(ctx context.Context, arg CreateBookParams) (Book, error)
	CreateReview(ctx context.Context, arg CreateReviewParams) (Review, error)
	CreateFavorite(ctx context.Context, arg CreateFavoriteParams) (Favorite, error)
}

type repository struct {
	db *DB
}

func NewRepository(db *DB) Repository {
	return &repository{db: db}
}

const schema = `
CREATE TABLE IF NOT EXISTS genres (
	id   TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS books (
	id          TEXT PRIMARY KEY,
	title       TEXT NOT NULL,
	author      TEXT NOT NULL,
	description TEXT
);

CREATE TABLE IF NOT EXISTS book_genres (
	book_id  TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
	genre_id TEXT NOT NULL REFERENCES genres(id) ON DELETE CASCADE,
	PRIMARY KEY (book_id, genre_id)
);

CREATE TABLE IF NOT EXISTS reviews (
	id      TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
	rating  INT  NOT NULL CHECK (rating BETWEEN 1 AND 5),
	content TEXT
);

CREATE TABLE IF NOT EXISTS favorites (
	user_id TEXT NOT NULL,
	book_id TEXT NOT NULL REFERENCES books(id) ON DELETE CASCADE,
	PRIMARY KEY (user_id, book_id)
);

CREATE INDEX IF NOT EXISTS idx_reviews_user ON reviews(user_id);
CREATE INDEX IF NOT EXISTS idx_reviews_book ON reviews(book_id);
CREATE INDEX IF NOT EXISTS idx_favorites_user ON favorites(user_id);
`

// Migrate creates the schema if it does not exist yet.
func (r *repository) Migrate(ctx context.Context) error {
	if _, err := r.db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

const bookColumns = `
	b.id, b.title, b.author, b.description,
	COALESCE(agg.avg_rating, 0) AS average_rating,
	COALESCE(agg.total_reviews, 0) AS total_reviews
`

const bookAggregates = `
	LEFT JOIN (
		SELECT book_id, AVG(rating)::float8 AS avg_rating, COUNT(id)::int AS total_reviews
		FROM reviews
		GROUP BY book_id
	) agg ON agg.book_id = b.id
`

// ListBooks returns every book with genres and aggregates populated.
func (r *repository) ListBooks(ctx context.Context) ([]Book, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+bookColumns+`
		FROM books b
		`+bookAggregates+`
		ORDER BY b.title`)
	if err != nil {
		return nil, fmt.Errorf("failed to query books: %w", err)
	}
	defer rows.Close()

	var books []Book
	for rows.Next() {
		var b Book
		if err := rows.Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.AverageRating, &b.TotalReviews); err != nil {
			return nil, fmt.Errorf("failed to scan book: %w", err)
		}
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read books: %w", err)
	}

	if err := r.attachGenres(ctx, books); err != nil {
		return nil, err
	}
	return books, nil
}

// GetBookByID returns a single book or ErrNotFound.
func (r *repository) GetBookByID(ctx context.Context, id string) (Book, error) {
	var b Book
	err := r.db.pool.QueryRow(ctx, `
		SELECT `+bookColumns+`
		FROM books b
		`+bookAggregates+`
		WHERE b.id = $1`, id).
		Scan(&b.ID, &b.Title, &b.Author, &b.Description, &b.AverageRating, &b.TotalReviews)
	if errors.Is(err, pgx.ErrNoRows) {
		return Book{}, ErrNotFound
	}
	if err != nil {
		return Book{}, fmt.Errorf("failed to query book %s: %w", id, err)
	}

	books := []Book{b}
	if err := r.attachGenres(ctx, books); err != nil {
		return Book{}, err
	}
	return books[0], nil
}

// ListReviewsByUser returns a user's reviews with books and genres
// expanded.
func (r *repository) ListReviewsByUser(ctx context.Context, userID string) ([]Review, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT rv.id, rv.user_id, rv.book_id, rv.rating, rv.content,
		`+bookColumns+`
		FROM reviews rv
		JOIN books b ON b.id = rv.book_id
		`+bookAggregates+`
		WHERE rv.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews for user %s: %w", userID, err)
	}
	defer rows.Close()

	var reviews []Review
	var books []Book
	for rows.Next() {
		var rv Review
		var b Book
		if err := rows.Scan(&rv.ID, &rv.UserID, &rv.BookID, &rv.Rating, &rv.Content,
			&b.ID, &b.Title, &b.Author, &b.Description, &b.AverageRating, &b.TotalReviews); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, rv)
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read reviews: %w", err)
	}

	if err := r.attachGenres(ctx, books); err != nil {
		return nil, err
	}
	for i := range reviews {
		reviews[i].Book = &books[i]
	}
	return reviews, nil
}

// ListFavoritesByUser returns a user's favorites with books and genres
// expanded.
func (r *repository) ListFavoritesByUser(ctx context.Context, userID string) ([]Favorite, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT f.user_id, f.book_id,
		`+bookColumns+`
		FROM favorites f
		JOIN books b ON b.id = f.book_id
		`+bookAggregates+`
		WHERE f.user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query favorites for user %s: %w", userID, err)
	}
	defer rows.Close()

	var favorites []Favorite
	var books []Book
	for rows.Next() {
		var f Favorite
		var b Book
		if err := rows.Scan(&f.UserID, &f.BookID,
			&b.ID, &b.Title, &b.Author, &b.Description, &b.AverageRating, &b.TotalReviews); err != nil {
			return nil, fmt.Errorf("failed to scan favorite: %w", err)
		}
		favorites = append(favorites, f)
		books = append(books, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read favorites: %w", err)
	}

	if err := r.attachGenres(ctx, books); err != nil {
		return nil, err
	}
	for i := range favorites {
		favorites[i].Book = &books[i]
	}
	return favorites, nil
}

// attachGenres loads genre relations for the given books in one query
// and assigns them in place.
func (r *repository) attachGenres(ctx context.Context, books []Book) error {
	if len(books) == 0 {
		return nil
	}

	ids := make([]string, 0, len(books))
	for _, b := range books {
		ids = append(ids, b.ID)
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT bg.book_id, g.id, g.name
		FROM book_genres bg
		JOIN genres g ON g.id = bg.genre_id
		WHERE bg.book_id = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to query genres: %w", err)
	}
	defer rows.Close()

	byBook := make(map[string][]Genre)
	for rows.Next() {
		var bookID string
		var g Genre
		if err := rows.Scan(&bookID, &g.ID, &g.Name); err != nil {
			return fmt.Errorf("failed to scan genre: %w", err)
		}
		byBook[bookID] = append(byBook[bookID], g)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to read genres: %w", err)
	}

	for i := range books {
		books[i].Genres = byBook[books[i].ID]
	}
	return nil
}

// CreateGenre inserts a genre, ignoring duplicates by name.
func (r *repository) CreateGenre(ctx context.Context, arg CreateGenreParams) (Genre, error) {
	var g Genre
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO genres (id, name) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name`, arg.ID, arg.Name).
		Scan(&g.ID, &g.Name)
	if err != nil {
		return Genre{}, fmt.Errorf("failed to create genre %s: %w", arg.Name, err)
	}
	return g, nil
}

// CreateBook inserts a book and its genre relations.
func (r *repository) CreateBook(ctx context.Context, arg CreateBookParams) (Book, error) {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return Book{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO books (id, title, author, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING`,
		arg.ID, arg.Title, arg.Author, arg.Description); err != nil {
		return Book{}, fmt.Errorf("failed to create book %s: %w", arg.Title, err)
	}

	for _, genreID := range arg.GenreIDs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO book_genres (book_id, genre_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, arg.ID, genreID); err != nil {
			return Book{}, fmt.Errorf("failed to link genre %s: %w", genreID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Book{}, fmt.Errorf("failed to commit book %s: %w", arg.Title, err)
	}

	return r.GetBookByID(ctx, arg.ID)
}

// CreateReview inserts a review. One review per (user, book) pair is
// assumed upstream but not enforced here.
func (r *repository) CreateReview(ctx context.Context, arg CreateReviewParams) (Review, error) {
	var rv Review
	err := r.db.pool.QueryRow(ctx, `
		INSERT INTO reviews (id, user_id, book_id, rating, content)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, book_id, rating, content`,
		arg.ID, arg.UserID, arg.BookID, arg.Rating, arg.Content).
		Scan(&rv.ID, &rv.UserID, &rv.BookID, &rv.Rating, &rv.Content)
	if err != nil {
		return Review{}, fmt.Errorf("failed to create review: %w", err)
	}
	return rv, nil
}

// CreateFavorite inserts a favorite, ignoring duplicates.
func (r *repository) CreateFavorite(ctx context.Context, arg CreateFavoriteParams) (Favorite, error) {
	if _, err := r.db.pool.Exec(ctx, `
		INSERT INTO favorites (user_id, book_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`, arg.UserID, arg.BookID); err != nil {
		return Favorite{}, fmt.Errorf("failed to create favorite: %w", err)
	}
	return Favorite{UserID: arg.UserID, BookID: arg.BookID}, nil
}
