package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/feedsync"
	"github.com/sirupsen/logrus"
)

func main() {
	filePath := flag.String("file", "", "Optional: ingest a scraper XLSX export instead of fetching FEED_URL")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	logger := logrus.New()

	ctx := context.Background()

	if strings.TrimSpace(*filePath) != "" {
		f, err := os.Open(*filePath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open workbook: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		rows, err := feedsync.ParseWorkbook(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "parse workbook: %v\n", err)
			os.Exit(1)
		}
		result := feedsync.IngestBatch(ctx, db, logger, rows)
		fmt.Printf("ingested file: processed=%d skipped=%d failed=%d\n", result.Processed, result.Skipped, result.Failed)
		return
	}

	result, err := feedsync.SyncFromFeed(ctx, db, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "feed sync failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("feed sync complete: processed=%d skipped=%d failed=%d\n", result.Processed, result.Skipped, result.Failed)
}
