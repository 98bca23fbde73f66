package cache

import (
	"crypto/sha1"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	RecommendationTTL = 2 * time.Minute
	StrategyTTL       = 5 * time.Minute
	TopRatedTTL       = 10 * time.Minute
	PopularTTL        = 10 * time.Minute
	SimilarTTL        = 30 * time.Minute
)

// RecommendationKey generates the key for a user's blended
// recommendation response.
func RecommendationKey(userID string, limit int) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%s|%d", userID, limit)))
	return fmt.Sprintf("cache:v1:recs:%x", hash)
}

// StrategyKey generates the key for a single strategy's output.
func StrategyKey(strategy, userID string, limit int, excludeIDs []string) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%s|%s|%d|%s", strategy, userID, limit, joinSorted(excludeIDs))))
	return fmt.Sprintf("cache:v1:strategy:%s:%x", strategy, hash)
}

// TopRatedKey generates the key for the top-rated shelf.
func TopRatedKey(limit int, excludeIDs []string) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%d|%s", limit, joinSorted(excludeIDs))))
	return fmt.Sprintf("cache:v1:toprated:%x", hash)
}

// PopularKey generates the key for the popular shelf.
func PopularKey(limit int, excludeIDs []string) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%d|%s", limit, joinSorted(excludeIDs))))
	return fmt.Sprintf("cache:v1:popular:%x", hash)
}

// SimilarKey generates the key for a book's similar-books list.
func SimilarKey(bookID string, limit int) string {
	hash := sha1.Sum([]byte(fmt.Sprintf("%s|%d", bookID, limit)))
	return fmt.Sprintf("cache:v1:similar:%x", hash)
}

// joinSorted canonicalizes an id set so key hashes do not depend on
// iteration order.
func joinSorted(ids []string) string {
	if len(ids) == 0 {
		return ""
	}
	sorted := make([]string, len(ids))
	copy(sorted, ids)
	sort.Strings(sorted)
	return strings.Join(sorted, ",")
}

// GetTTL returns the appropriate TTL for a given key.
func GetTTL(key string) time.Duration {
	switch {
	case strings.Contains(key, "cache:v1:recs:"):
		return RecommendationTTL
	case strings.Contains(key, "cache:v1:strategy:"):
		return StrategyTTL
	case strings.Contains(key, "cache:v1:toprated:"):
		return TopRatedTTL
	case strings.Contains(key, "cache:v1:popular:"):
		return PopularTTL
	case strings.Contains(key, "cache:v1:similar:"):
		return SimilarTTL
	default:
		return 5 * time.Minute
	}
}
