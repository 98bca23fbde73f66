package popularity

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"bookcritic/internal/services/recommend"
)

// shelfLimits are the result sizes precomputed by each pass. They cover
// the default and maximum page sizes served by the API.
var shelfLimits = []int{5, 10, 20, 50}

// Warmer periodically recomputes the cached top-rated and popular
// shelves so fallback requests are served from cache.
type Warmer struct {
	svc    *recommend.Service
	ticker *time.Ticker
	done   chan bool
}

func NewWarmer(svc *recommend.Service) *Warmer {
	return &Warmer{
		svc:  svc,
		done: make(chan bool),
	}
}

// Start begins the background shelf recomputation.
func (w *Warmer) Start(ctx context.Context, interval time.Duration) {
	w.ticker = time.NewTicker(interval)

	go func() {
		w.warm(ctx)
		for {
			select {
			case <-w.ticker.C:
				w.warm(ctx)
			case <-w.done:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Info().Dur("interval", interval).Msg("Popularity warmer started")
}

// Stop stops the background recomputation.
func (w *Warmer) Stop() {
	if w.ticker != nil {
		w.ticker.Stop()
	}
	close(w.done)
	log.Info().Msg("Popularity warmer stopped")
}

// warm recomputes both shelves for each configured size. The service
// caches its own results, so a pass is just a sequence of reads.
func (w *Warmer) warm(ctx context.Context) {
	start := time.Now()
	topRated, popular := 0, 0
	for _, limit := range shelfLimits {
		topRated += len(w.svc.GetTopRatedBooks(ctx, limit, nil))
		popular += len(w.svc.GetPopularBooks(ctx, limit, nil))
	}
	log.Info().
		Dur("duration", time.Since(start)).
		Int("top_rated", topRated).
		Int("popular", popular).
		Msg("Popularity shelves recomputed")
}
