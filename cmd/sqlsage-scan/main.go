package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/sqlsage/sqlsage/internal/config"
	"github.com/sqlsage/sqlsage/internal/observability"
	"github.com/sqlsage/sqlsage/internal/schema"
	"github.com/sqlsage/sqlsage/internal/schema/objectstore"
	schemapostgres "github.com/sqlsage/sqlsage/internal/schema/postgres"
)

// sqlsage-scan runs one schema discovery pass against the configured
// database and publishes the resulting document to the configured
// destination (file or object store). The API serves queries from that
// document; rerun the scan and POST /v1/schema/rescan to pick up DDL
// changes.
func main() {
	target := flag.String("schema", "", "limit the scan to one database schema (default: every user schema)")
	out := flag.String("out", "", "override the document destination path or object key")
	flag.Parse()

	cfg, err := config.LoadFromEnv("sqlsage-scan")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *out != "" {
		cfg.Schema.DocumentPath = *out
		cfg.Schema.ObjectKey = *out
	}

	logger := observability.NewLogger(cfg, os.Stderr)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := schemapostgres.Open(ctx, schemapostgres.DBConfig{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	scanner := schemapostgres.NewScanner(db, cfg.Schema.PublicName, logger)
	catalog, err := scanner.Scan(ctx, *target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "scan failed: %v\n", err)
		os.Exit(1)
	}

	switch cfg.Schema.Source {
	case "objectstore":
		loader, err := objectstore.New(objectstore.Config{
			Endpoint:        cfg.ObjectStore.Endpoint,
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			UseSSL:          cfg.ObjectStore.UseSSL,
			Prefix:          cfg.ObjectStore.Prefix,
			ObjectKey:       cfg.Schema.ObjectKey,
			PublicName:      cfg.Schema.PublicName,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "object store error: %v\n", err)
			os.Exit(1)
		}
		if err := loader.Publish(ctx, catalog); err != nil {
			fmt.Fprintf(os.Stderr, "publish failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("published %d table(s) across %d schema(s) to s3://%s/%s\n",
			catalog.Len(), len(catalog.Partitions()), cfg.ObjectStore.Bucket, cfg.Schema.ObjectKey)
	default:
		if err := schema.WriteFile(cfg.Schema.DocumentPath, catalog); err != nil {
			fmt.Fprintf(os.Stderr, "write failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("wrote %d table(s) across %d schema(s) to %s\n",
			catalog.Len(), len(catalog.Partitions()), cfg.Schema.DocumentPath)
	}
}
