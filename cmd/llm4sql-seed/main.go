package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	_ "modernc.org/sqlite"

	"github.com/llm4sql/llm4sql/internal/config"
	"github.com/llm4sql/llm4sql/internal/seed"
	s3store "github.com/llm4sql/llm4sql/internal/storage/s3"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("llm4sql-seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	dataset := flag.String("dataset", "employee", "sample dataset to build")
	direction := flag.String("direction", "up", "seed direction: up|down")
	steps := flag.Int("steps", 0, "number of seed steps; 0 means all for up, 1 for down")
	dataDir := flag.String("data-dir", cfg.Catalog.DataDir, "directory holding the sample sqlite files")
	publish := flag.Bool("publish", false, "upload the built file to the object store")
	flag.Parse()

	runner, err := seed.NewRunner(*dataset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed error: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	fileName, ok := seed.Files[*dataset]
	if !ok {
		fileName = *dataset + ".sqlite"
	}
	target := filepath.Join(*dataDir, fileName)

	switch *direction {
	case "up":
		if *steps == 0 {
			path, applied, err := runner.Build(ctx, *dataDir)
			if err != nil {
				fmt.Fprintf(os.Stderr, "seed up failed: %v\n", err)
				os.Exit(1)
			}
			target = path
			fmt.Printf("applied %d seed(s) to %s\n", applied, path)
			break
		}
		if err := os.MkdirAll(*dataDir, 0o755); err != nil {
			fmt.Fprintf(os.Stderr, "create data dir: %v\n", err)
			os.Exit(1)
		}
		db := openSQLite(target)
		applied, err := runner.Up(ctx, db, *steps)
		_ = db.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed up failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("applied %d seed(s) to %s\n", applied, target)
	case "down":
		db := openSQLite(target)
		rolledBack, err := runner.Down(ctx, db, *steps)
		_ = db.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "seed down failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("rolled back %d seed(s) in %s\n", rolledBack, target)
	default:
		fmt.Fprintf(os.Stderr, "invalid direction: %s\n", *direction)
		os.Exit(1)
	}

	if !*publish {
		return
	}
	if !cfg.ObjectStore.Enabled() {
		fmt.Fprintln(os.Stderr, "LLM4SQL_OBJECTSTORE_ENDPOINT and LLM4SQL_OBJECTSTORE_BUCKET are required to publish")
		os.Exit(1)
	}
	store, err := s3store.New(ctx, s3store.Config{
		Endpoint:         cfg.ObjectStore.Endpoint,
		Region:           cfg.ObjectStore.Region,
		Bucket:           cfg.ObjectStore.Bucket,
		AccessKeyID:      cfg.ObjectStore.AccessKeyID,
		SecretAccessKey:  cfg.ObjectStore.SecretAccessKey,
		UseSSL:           cfg.ObjectStore.UseSSL,
		Prefix:           cfg.ObjectStore.Prefix,
		AutoCreateBucket: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "object store error: %v\n", err)
		os.Exit(1)
	}
	info, err := seed.Publish(ctx, store, *dataset, target)
	if err != nil {
		fmt.Fprintf(os.Stderr, "publish failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("published %s (%d bytes)\n", info.Key, info.Size)
}

func openSQLite(path string) *sql.DB {
	db, err := sql.Open("sqlite", "file:"+path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database open error: %v\n", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(1)
	return db
}
