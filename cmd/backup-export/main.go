// backup-export writes one user's data as a flat backup JSON document.
//
// Usage (from backend directory):
//
//	DB_USER=... DB_PASSWORD=... DB_HOST=... DB_PORT=... DB_NAME=... \
//	  go run ./cmd/backup-export -user <userId> -out backup.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"bitbucket.org/mmdatafocus/optics_backend/config"
	"bitbucket.org/mmdatafocus/optics_backend/models"
	"github.com/joho/godotenv"
)

func main() {
	userId := flag.String("user", "", "user id whose document to export")
	out := flag.String("out", "backup.json", "output file path")
	flag.Parse()

	godotenv.Load()

	if *userId == "" {
		fmt.Fprintln(os.Stderr, "-user is required")
		os.Exit(2)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil). Set DB_* env vars.")
		os.Exit(1)
	}

	ctx := context.Background()
	logger := config.GetLogger()
	ctrl := models.NewController(models.NewMySQLGateway(db), nil, logger)
	if err := ctrl.Initialize(ctx, *userId, true); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load document for %s: %v\n", *userId, err)
		os.Exit(1)
	}

	dump, err := ctrl.ExportDump()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build backup: %v\n", err)
		os.Exit(1)
	}

	raw, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode backup: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile(*out, raw, 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "failed to write %s: %v\n", *out, err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s (%d businesses, %d transactions)\n", *out, len(dump.Businesses), len(dump.Transactions))
}
