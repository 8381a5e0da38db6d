package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/tiny-treasure/internal/catalog"
	"github.com/noah-isme/tiny-treasure/internal/obs"
	"github.com/noah-isme/tiny-treasure/internal/store"
)

func main() {
	force := flag.Bool("force", false, "overwrite an existing catalog")
	format := flag.String("log-format", "console", "json or console")
	flag.Parse()

	_ = godotenv.Load()
	logger := obs.NewLogger(*format, "info").With().Str("component", "seeder").Logger()

	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		logger.Fatal().Msg("REDIS_URL is not set")
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}

	if err := seed(ctx, store.NewRedis(client), *force, logger); err != nil {
		logger.Fatal().Err(err).Msg("seed catalog")
	}
	logger.Info().Msg("seeding completed")
}

func seed(ctx context.Context, kv store.KV, force bool, logger zerolog.Logger) error {
	if !force {
		_, err := kv.Get(ctx, store.KeyProducts)
		if err == nil {
			logger.Info().Str("key", store.KeyProducts).Msg("catalog already present, use -force to overwrite")
			return nil
		}
		if !errors.Is(err, store.ErrMissing) {
			return err
		}
	}
	svc := catalog.NewService(catalog.ServiceConfig{KV: kv, Logger: logger})
	stores := catalog.SeedStores()
	if err := svc.SaveStores(ctx, stores); err != nil {
		return err
	}
	products := catalog.SeedProducts()
	if err := svc.SaveProducts(ctx, products); err != nil {
		return err
	}
	logger.Info().Int("stores", len(stores)).Int("products", len(products)).Msg("catalog written")
	return nil
}
