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
	force := flag.Bool("force", false, "Apply corrections the read-only audit would only report (duplicate cleanup, missing ledger rows)")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	config.ConnectRedisWithRetry()
	logger := logrus.New()

	summary, err := workflow.RunDriftAudit(context.Background(), db, logger, *force)
	if err != nil {
		fmt.Fprintf(os.Stderr, "drift audit failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("drift audit complete: checks=%d failed_checks=%d hard=%d soft=%d corrected=%d health_score=%s\n",
		summary.ChecksCompleted, summary.ChecksFailedToComplete, summary.HardViolations, summary.SoftViolations,
		summary.Processed, summary.HealthScore.String())
	if len(summary.ReclassifyCandidates) > 0 {
		fmt.Printf("reclassification candidates (review before applying): %v\n", summary.ReclassifyCandidates)
	}
	if summary.ChecksFailedToComplete > 0 {
		os.Exit(1)
	}
}
