package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	platesArg := flag.String("plates", "", "Required: comma-separated plates to reclassify as professional sales")
	flag.Parse()

	plates := make([]string, 0)
	for _, p := range strings.Split(*platesArg, ",") {
		if p = strings.TrimSpace(p); p != "" {
			plates = append(plates, p)
		}
	}
	if len(plates) == 0 {
		fmt.Fprintln(os.Stderr, "--plates is required (comma-separated)")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	result := workflow.ReclassifyProfessionalSales(context.Background(), db, logger, plates)
	fmt.Printf("reclassification complete: processed=%d skipped=%d failed=%d\n",
		result.Processed, result.Skipped, result.Failed)
	if result.Failed > 0 {
		os.Exit(1)
	}
}
