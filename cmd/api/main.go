package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"bookcritic/internal/cache"
	"bookcritic/internal/config"
	httphandler "bookcritic/internal/http"
	"bookcritic/internal/ingest"
	"bookcritic/internal/repo"
	"bookcritic/internal/services/llm"
	"bookcritic/internal/services/popularity"
	"bookcritic/internal/services/recommend"
)

func main() {
	var (
		ingestData = flag.Bool("ingest", false, "Load sample data into the database and exit")
		port       = flag.String("port", "", "Port to run the server on (overrides PORT)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if *port == "" {
		*port = cfg.Server.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := repo.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	repository := repo.NewRepository(db)
	if err := repository.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	if *ingestData {
		loader := ingest.NewLoader(repository)
		if err := loader.GenerateSampleData(ctx); err != nil {
			log.Fatal().Err(err).Msg("Failed to load sample data")
		}
		return
	}

	redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer redisCache.Close()

	// A missing API key disables the LLM strategy; the aggregate keeps
	// working on the remaining strategies.
	var recommender llm.BookRecommender
	if cfg.OpenAI.APIKey == "" {
		log.Warn().Msg("OPENAI_API_KEY not set, LLM recommendations disabled")
		recommender = llm.NewRecommender(nil)
	} else {
		client, err := llm.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create LLM client")
		}
		recommender = llm.NewRecommender(client)
	}

	recService := recommend.NewService(repository, redisCache, recommender)

	warmer := popularity.NewWarmer(recService)
	warmer.Start(ctx, cfg.Recommend.WarmerInterval)
	defer warmer.Stop()

	router := httphandler.NewRouter()
	handler := httphandler.NewRecommendationHandler(recService, cfg.Recommend.DefaultLimit, cfg.Recommend.MaxLimit)
	router.RegisterRecommendationRoutes(handler)
	router.RegisterHealthRoutes()

	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info().Str("port", *port).Msg("Starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server shutdown error")
	}

	log.Info().Msg("Server stopped")
}
