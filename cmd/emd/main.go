// Command emd builds monthly chlorophyll signatures from CSV tiles, computes
// the pairwise Earth Mover's Distance matrix between them, and reports a
// hierarchical clustering and classical MDS embedding of the result.
//
// Configuration comes from environment variables, optionally seeded from a
// .env file in the working directory.
//
// Usage:
//
//	SOURCES=modis=data/modis.csv,seawifs=data/seawifs.csv emd run --output report.json
//	SOURCES=modis=data/modis.csv emd inspect
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	// A missing .env file is not an error; the environment may be set directly.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
