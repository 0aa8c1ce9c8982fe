package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	summary, err := workflow.AssignPendingTasks(context.Background(), db, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "assignment sweep failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("assignment sweep complete: processed=%d skipped=%d failed=%d\n",
		summary.Processed, summary.Skipped, summary.Failed)
	for id, n := range summary.PerPhotographer {
		fmt.Printf("  photographer %d: +%d tasks\n", id, n)
	}
}
