package recommend

import (
	"sort"

	"bookcritic/internal/repo"
	"bookcritic/internal/services/llm"
)

// highRatingThreshold is the minimum review rating that counts as a
// positive preference signal.
const highRatingThreshold = 4

// ExtractPreferredGenres derives the set of genre ids a user has shown
// affinity for. Only reviews rated at or above the threshold
// contribute; reviews with missing book or genre relations are skipped
// silently. The result is deterministic for a given review set
// regardless of input order.
func ExtractPreferredGenres(reviews []repo.Review) map[string]struct{} {
	genres := make(map[string]struct{})
	for _, rv := range reviews {
		if rv.Rating < highRatingThreshold || rv.Book == nil {
			continue
		}
		for _, g := range rv.Book.Genres {
			if g.ID == "" {
				continue
			}
			genres[g.ID] = struct{}{}
		}
	}
	return genres
}

// BuildPreferenceProfile assembles the natural-language taste summary
// sent to the external recommender. Genre and author signals come from
// highly-rated reviews and from favorites; every reviewed title lands
// in RecentlyRead regardless of rating.
func BuildPreferenceProfile(reviews []repo.Review, favorites []repo.Favorite) llm.PreferenceProfile {
	genres := make(map[string]struct{})
	authors := make(map[string]struct{})
	recentlyRead := make(map[string]struct{})
	highlyRated := make(map[string]struct{})

	for _, rv := range reviews {
		if rv.Book == nil {
			continue
		}
		recentlyRead[rv.Book.Title] = struct{}{}
		if rv.Rating < highRatingThreshold {
			continue
		}
		highlyRated[rv.Book.Title] = struct{}{}
		if rv.Book.Author != "" {
			authors[rv.Book.Author] = struct{}{}
		}
		for _, g := range rv.Book.Genres {
			if g.Name != "" {
				genres[g.Name] = struct{}{}
			}
		}
	}

	for _, f := range favorites {
		if f.Book == nil {
			continue
		}
		if f.Book.Author != "" {
			authors[f.Book.Author] = struct{}{}
		}
		for _, g := range f.Book.Genres {
			if g.Name != "" {
				genres[g.Name] = struct{}{}
			}
		}
	}

	return llm.PreferenceProfile{
		FavoriteGenres:  sortedKeys(genres),
		FavoriteAuthors: sortedKeys(authors),
		RecentlyRead:    sortedKeys(recentlyRead),
		HighlyRated:     sortedKeys(highlyRated),
	}
}

func sortedKeys(set map[string]struct{}) []string {
	if len(set) == 0 {
		return nil
	}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
