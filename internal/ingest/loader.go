package ingest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"

	"bookcritic/internal/repo"
)

// Loader seeds the database from JSON files or generated sample data.
type Loader struct {
	repo repo.Repository

	// genre name -> id, so repeated names map to one genre row
	genreIDs map[string]string
}

// NewLoader creates a new Loader instance
func NewLoader(repository repo.Repository) *Loader {
	return &Loader{
		repo:     repository,
		genreIDs: make(map[string]string),
	}
}

// SeedBook is the JSON shape accepted by the file loader.
type SeedBook struct {
	Title       string   `json:"title"`
	Author      string   `json:"author"`
	Description *string  `json:"description,omitempty"`
	Genres      []string `json:"genres"`
}

// LoadFromDirectory loads all JSON files from a directory
func (l *Loader) LoadFromDirectory(ctx context.Context, dirPath string) error {
	return filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() || !strings.HasSuffix(strings.ToLower(path), ".json") {
			return nil
		}

		log.Info().Str("file", path).Msg("Loading seed file")
		return l.LoadFromFile(ctx, path)
	})
}

// LoadFromFile loads books from a single JSON file
func (l *Loader) LoadFromFile(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	var books []SeedBook
	if err := json.NewDecoder(file).Decode(&books); err != nil {
		return fmt.Errorf("failed to decode JSON from %s: %w", filePath, err)
	}

	for i, book := range books {
		if _, err := l.LoadBook(ctx, book); err != nil {
			log.Warn().Err(err).Int("index", i).Str("title", book.Title).Msg("Failed to load book")
			continue
		}
	}

	log.Info().Int("count", len(books)).Str("file", filePath).Msg("Seed file loaded")
	return nil
}

// LoadBook inserts a single book, creating its genres as needed.
func (l *Loader) LoadBook(ctx context.Context, book SeedBook) (repo.Book, error) {
	genreIDs := make([]string, 0, len(book.Genres))
	for _, name := range book.Genres {
		id, err := l.genreID(ctx, name)
		if err != nil {
			return repo.Book{}, err
		}
		genreIDs = append(genreIDs, id)
	}

	return l.repo.CreateBook(ctx, repo.CreateBookParams{
		ID:          generateID(),
		Title:       book.Title,
		Author:      book.Author,
		Description: book.Description,
		GenreIDs:    genreIDs,
	})
}

func (l *Loader) genreID(ctx context.Context, name string) (string, error) {
	if id, ok := l.genreIDs[name]; ok {
		return id, nil
	}
	genre, err := l.repo.CreateGenre(ctx, repo.CreateGenreParams{
		ID:   generateID(),
		Name: name,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genre %s: %w", name, err)
	}
	l.genreIDs[name] = genre.ID
	return genre.ID, nil
}

// GenerateSampleData seeds a small library with reviews and favorites
// for local development.
func (l *Loader) GenerateSampleData(ctx context.Context) error {
	if err := l.repo.Migrate(ctx); err != nil {
		return err
	}

	books := []SeedBook{
		{Title: "The Left Hand of Darkness", Author: "Ursula K. Le Guin", Genres: []string{"Science Fiction"}, Description: strPtr("An envoy navigates politics on a planet without fixed gender.")},
		{Title: "The Dispossessed", Author: "Ursula K. Le Guin", Genres: []string{"Science Fiction"}, Description: strPtr("A physicist moves between two worlds with opposing ideologies.")},
		{Title: "Dune", Author: "Frank Herbert", Genres: []string{"Science Fiction"}, Description: strPtr("A noble family takes stewardship of a desert planet.")},
		{Title: "The Name of the Rose", Author: "Umberto Eco", Genres: []string{"Mystery", "Historical"}, Description: strPtr("A Franciscan friar investigates deaths in an abbey.")},
		{Title: "Gone Girl", Author: "Gillian Flynn", Genres: []string{"Mystery", "Thriller"}, Description: strPtr("A wife disappears on her fifth wedding anniversary.")},
		{Title: "The Big Sleep", Author: "Raymond Chandler", Genres: []string{"Mystery"}, Description: strPtr("A private detective is drawn into a wealthy family's secrets.")},
		{Title: "Pride and Prejudice", Author: "Jane Austen", Genres: []string{"Romance", "Classic"}, Description: strPtr("Elizabeth Bennet navigates manners and marriage.")},
		{Title: "Persuasion", Author: "Jane Austen", Genres: []string{"Romance", "Classic"}, Description: strPtr("A second chance at a love given up years before.")},
		{Title: "Sapiens", Author: "Yuval Noah Harari", Genres: []string{"Non-fiction", "History"}, Description: strPtr("A brief history of humankind.")},
		{Title: "Thinking, Fast and Slow", Author: "Daniel Kahneman", Genres: []string{"Non-fiction"}, Description: strPtr("Two systems that drive the way we think.")},
		{Title: "Project Hail Mary", Author: "Andy Weir", Genres: []string{"Science Fiction"}, Description: strPtr("A lone astronaut must save the earth from disaster.")},
		{Title: "The Hobbit", Author: "J.R.R. Tolkien", Genres: []string{"Fantasy", "Classic"}, Description: strPtr("Bilbo Baggins is swept into a quest for treasure.")},
	}

	ids := make(map[string]string, len(books))
	for _, b := range books {
		created, err := l.LoadBook(ctx, b)
		if err != nil {
			return fmt.Errorf("failed to seed book %s: %w", b.Title, err)
		}
		ids[b.Title] = created.ID
	}

	type seedReview struct {
		user   string
		title  string
		rating int
	}
	reviews := []seedReview{
		{"alice", "The Left Hand of Darkness", 5},
		{"alice", "Dune", 4},
		{"alice", "Gone Girl", 2},
		{"bob", "Dune", 5},
		{"bob", "Project Hail Mary", 5},
		{"bob", "The Hobbit", 4},
		{"carol", "Pride and Prejudice", 5},
		{"carol", "Persuasion", 4},
		{"carol", "Dune", 4},
		{"dave", "Sapiens", 5},
		{"dave", "Dune", 5},
		{"dave", "The Name of the Rose", 4},
		{"erin", "The Hobbit", 5},
		{"erin", "Project Hail Mary", 4},
		{"erin", "Pride and Prejudice", 3},
	}
	for _, rv := range reviews {
		bookID, ok := ids[rv.title]
		if !ok {
			continue
		}
		if _, err := l.repo.CreateReview(ctx, repo.CreateReviewParams{
			ID:     generateID(),
			UserID: rv.user,
			BookID: bookID,
			Rating: rv.rating,
		}); err != nil {
			return fmt.Errorf("failed to seed review: %w", err)
		}
	}

	favorites := map[string][]string{
		"alice": {"The Dispossessed"},
		"bob":   {"Dune", "The Hobbit"},
		"carol": {"Persuasion"},
	}
	for user, titles := range favorites {
		for _, title := range titles {
			bookID, ok := ids[title]
			if !ok {
				continue
			}
			if _, err := l.repo.CreateFavorite(ctx, repo.CreateFavoriteParams{
				UserID: user,
				BookID: bookID,
			}); err != nil {
				return fmt.Errorf("failed to seed favorite: %w", err)
			}
		}
	}

	log.Info().Int("books", len(books)).Int("reviews", len(reviews)).Msg("Sample data loaded")
	return nil
}

func generateID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		panic(fmt.Sprintf("failed to generate id: %v", err))
	}
	return hex.EncodeToString(b)
}

func strPtr(s string) *string {
	return &s
}
