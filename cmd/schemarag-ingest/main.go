package main

import (
	"bytes"
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/schemarag/schemarag/internal/config"
	"github.com/schemarag/schemarag/internal/ingest"
	"github.com/schemarag/schemarag/internal/observability"
	"github.com/schemarag/schemarag/internal/storage"
	s3store "github.com/schemarag/schemarag/internal/storage/s3"
	duckdbstore "github.com/schemarag/schemarag/internal/store/duckdb"
	postgresstore "github.com/schemarag/schemarag/internal/store/postgres"
)

func main() {
	filePath := flag.String("file", "", "Local CSV file to ingest")
	objectKey := flag.String("object", "", "Object store key of a CSV to ingest (instead of -file)")
	table := flag.String("table", "", "Target table (defaults to the configured store table)")
	archive := flag.Bool("archive", false, "Also write the batch to the object store as parquet")
	flag.Parse()

	cfg, err := config.LoadFromEnv("schemarag-ingest")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := observability.NewLogger(cfg, os.Stdout)

	if (*filePath == "") == (*objectKey == "") {
		logger.Error("exactly one of -file or -object is required")
		os.Exit(2)
	}
	targetTable := *table
	if targetTable == "" {
		targetTable = cfg.Store.Table
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var objectStore *s3store.Store
	if *objectKey != "" || *archive {
		objectStore, err = openObjectStore(ctx, cfg)
		if err != nil {
			logger.Error("failed to initialize object store", slog.Any("error", err))
			os.Exit(1)
		}
	}

	batch, err := readBatch(ctx, *filePath, *objectKey, objectStore)
	if err != nil {
		logger.Error("failed to read input", slog.Any("error", err))
		os.Exit(1)
	}

	db, style, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		logger.Error("failed to open tabular store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	loader := &ingest.Loader{DB: db, Style: style}
	inserted, err := loader.Load(ctx, targetTable, batch)
	if err != nil {
		logger.Error("failed to load batch", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("batch loaded",
		slog.String("table", targetTable),
		slog.Int("rows", inserted),
		slog.Int("columns", len(batch.Columns)),
	)

	if *archive {
		if err := archiveBatch(ctx, objectStore, targetTable, batch, logger); err != nil {
			logger.Error("failed to archive batch", slog.Any("error", err))
			os.Exit(1)
		}
	}
}

func readBatch(ctx context.Context, filePath, objectKey string, objectStore *s3store.Store) (ingest.Batch, error) {
	var source io.ReadCloser
	if objectKey != "" {
		body, err := objectStore.Get(ctx, objectKey)
		if err != nil {
			return ingest.Batch{}, fmt.Errorf("fetch object %q: %w", objectKey, err)
		}
		source = body
	} else {
		file, err := os.Open(filePath)
		if err != nil {
			return ingest.Batch{}, fmt.Errorf("open input file: %w", err)
		}
		source = file
	}
	defer func() { _ = source.Close() }()

	batch, err := ingest.ReadCSV(source)
	if err != nil {
		return ingest.Batch{}, fmt.Errorf("parse csv input: %w", err)
	}
	return batch, nil
}

func openStore(ctx context.Context, cfg config.Config) (*sql.DB, ingest.PlaceholderStyle, func(), error) {
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		pg, err := postgresstore.Open(ctx, postgresstore.Config{
			DSN:             cfg.Store.DSN,
			MaxOpenConns:    cfg.Store.MaxOpenConns,
			MaxIdleConns:    cfg.Store.MaxIdleConns,
			ConnMaxIdleTime: cfg.Store.ConnMaxIdleTime,
			ConnMaxLifetime: cfg.Store.ConnMaxLifetime,
		})
		if err != nil {
			return nil, 0, nil, err
		}
		return pg.DB(), ingest.PlaceholderDollar, func() { _ = pg.Close() }, nil
	default:
		duck, err := duckdbstore.Open(ctx, cfg.Store.Path)
		if err != nil {
			return nil, 0, nil, err
		}
		return duck.DB(), ingest.PlaceholderQuestion, func() { _ = duck.Close() }, nil
	}
}

func openObjectStore(ctx context.Context, cfg config.Config) (*s3store.Store, error) {
	return s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: cfg.ObjectStore.AutoCreateBucket,
	})
}

func archiveBatch(ctx context.Context, objectStore *s3store.Store, table string, batch ingest.Batch, logger *slog.Logger) error {
	data, err := ingest.EncodeParquet(batch)
	if err != nil {
		return err
	}
	key, err := storage.NextArchivePath(ctx, objectStore, table, time.Now().UTC())
	if err != nil {
		return err
	}
	info, err := objectStore.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{
		ContentType: "application/vnd.apache.parquet",
	})
	if err != nil {
		return err
	}
	logger.Info("batch archived",
		slog.String("key", info.Key),
		slog.Int("bytes", len(data)),
	)
	return nil
}
