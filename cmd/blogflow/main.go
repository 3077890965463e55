package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-blogflow/pkg/blog"
	"github.com/illmade-knight/go-blogflow/pkg/chat"
	"github.com/illmade-knight/go-blogflow/pkg/dedup"
	"github.com/illmade-knight/go-blogflow/pkg/genai"
	"github.com/illmade-knight/go-blogflow/pkg/history"
	"github.com/illmade-knight/go-blogflow/pkg/ingest"
	"github.com/illmade-knight/go-blogflow/pkg/mediastore"
	"github.com/illmade-knight/go-blogflow/pkg/pipeline"
	"github.com/illmade-knight/go-blogflow/pkg/publish"
	"github.com/illmade-knight/go-blogflow/pkg/search"
	"github.com/illmade-knight/go-blogflow/pkg/service"
)

func main() {
	configPath := flag.String("config", "", "path to optional YAML config file")
	flag.Parse()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := service.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load configuration.")
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lineClient, err := chat.NewLineClient(chat.LineConfig{ChannelToken: cfg.ChannelToken}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create channel client.")
	}

	generator, err := genai.NewClient(genai.Config{
		BaseURL: cfg.GenAIBaseURL,
		APIKey:  cfg.GenAIAPIKey,
		Model:   cfg.GenAIModel,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create generation client.")
	}

	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create storage client.")
	}
	defer func() { _ = storageClient.Close() }()

	media, err := mediastore.NewGCSStore(
		mediastore.GCSStoreConfig{BucketName: cfg.MediaBucket, ObjectPrefix: cfg.MediaPrefix},
		mediastore.NewGCSClientAdapter(storageClient),
		lineClient,
		logger,
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create media store.")
	}

	recorder := newRecorder(ctx, cfg, logger)
	deduper := newDeduper(ctx, cfg, logger)

	var searcher pipeline.Searcher
	if cfg.SearchAPIKey != "" && cfg.SearchEngineID != "" {
		googleSearcher, err := search.NewGoogleSearcher(ctx, search.GoogleConfig{
			APIKey:   cfg.SearchAPIKey,
			EngineID: cfg.SearchEngineID,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create searcher.")
		}
		searcher = googleSearcher
	} else {
		logger.Warn().Msg("Search collaborator not configured, augmentation disabled.")
	}

	publisher, err := blog.NewHatenaPublisher(blog.HatenaConfig{
		HatenaID:   cfg.HatenaID,
		BlogDomain: cfg.HatenaDomain,
		APIKey:     cfg.HatenaAPIKey,
		Draft:      cfg.HatenaDraft,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create blog publisher.")
	}

	svc, err := service.New(cfg, service.Collaborators{
		Describer: generator,
		Media:     media,
		Generator: generator,
		Searcher:  searcher,
		Publisher: publisher,
		Recorder:  recorder,
		Notifier:  lineClient,
		Deduper:   deduper,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to assemble service.")
	}

	if err := svc.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Failed to start service.")
	}

	var ingestor *ingest.PubsubIngestor
	if cfg.SubscriptionID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Pub/Sub client.")
		}
		defer func() { _ = pubsubClient.Close() }()

		ingestor, err = ingest.NewPubsubIngestor(
			&ingest.PubsubIngestorConfig{SubscriptionID: cfg.SubscriptionID},
			pubsubClient,
			svc.Webhook(),
			logger,
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Pub/Sub ingestor.")
		}
		if err := ingestor.Start(ctx); err != nil {
			logger.Fatal().Err(err).Msg("Failed to start Pub/Sub ingestor.")
		}
	}

	<-ctx.Done()
	logger.Info().Msg("Shutdown signal received.")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if ingestor != nil {
		_ = ingestor.Stop()
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Shutdown finished with errors.")
	}
}

// newRecorder picks the history backend: BigQuery when a dataset is
// configured, Firestore when a project is, in-memory otherwise.
func newRecorder(ctx context.Context, cfg *service.Config, logger zerolog.Logger) publish.Recorder {
	switch {
	case cfg.HistoryDataset != "":
		client, err := bigquery.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create BigQuery client.")
		}
		recorder, err := history.NewBigQueryRecorder(ctx, client, &history.BigQueryConfig{
			DatasetID: cfg.HistoryDataset,
			TableID:   cfg.HistoryTable,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create BigQuery recorder.")
		}
		return recorder
	case cfg.ProjectID != "":
		client, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Firestore client.")
		}
		recorder, err := history.NewFirestoreRecorder(&history.FirestoreConfig{
			ProjectID:      cfg.ProjectID,
			CollectionName: cfg.HistoryCollection,
		}, client, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("Failed to create Firestore recorder.")
		}
		return recorder
	default:
		logger.Warn().Msg("No history backend configured, keeping article history in memory.")
		return history.NewInMemoryRecorder()
	}
}

// newDeduper picks the idempotency store: Redis when configured, otherwise
// in-process.
func newDeduper(ctx context.Context, cfg *service.Config, logger zerolog.Logger) dedup.Deduper {
	if cfg.RedisAddr == "" {
		logger.Warn().Msg("No Redis configured, using in-process dedup store.")
		return dedup.NewInMemoryDeduper()
	}
	deduper, err := dedup.NewRedisDeduper(ctx, &dedup.RedisConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create Redis deduper.")
	}
	return deduper
}
