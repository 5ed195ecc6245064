package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	infrabq "github.com/dvloznov/sampletl/internal/infra/bigquery"
	"github.com/dvloznov/sampletl/internal/infra/sqlite"
	"github.com/dvloznov/sampletl/internal/logger"
	"github.com/dvloznov/sampletl/internal/pipeline"
)

var cli struct {
	Source   string `arg:"" optional:"" env:"SAMPLETL_SOURCE" help:"Source archive: local zip path or gs:// URI."`
	Target   string `arg:"" optional:"" env:"SAMPLETL_TARGET" help:"Destination store: SQLite path or bq://project.dataset."`
	LogLevel string `env:"SAMPLETL_LOG_LEVEL" default:"info" help:"Log level (debug, info, warn, error)."`
}

func main() {
	// .env provides the location defaults in local setups; absence is fine.
	_ = godotenv.Load()

	kctx := kong.Parse(&cli,
		kong.Name("sampletl"),
		kong.Description("Loads a sample-analytics zip archive into a star schema."),
		kong.UsageOnError(),
	)

	log := logger.New(cli.LogLevel)

	if cli.Source == "" || cli.Target == "" {
		kctx.Fatalf("source and target are required (arguments or SAMPLETL_SOURCE/SAMPLETL_TARGET)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	loader, err := openLoader(ctx, cli.Target)
	if err != nil {
		log.Fatal().Err(err).Msg("Opening destination store failed")
	}
	defer loader.Close()

	counts, err := pipeline.Run(ctx, cli.Source, loader)
	if err != nil {
		log.Fatal().Err(err).Msg("ETL failed")
	}

	fmt.Println("\nLoad summary:")
	for _, name := range pipeline.RelationNames {
		fmt.Printf("  %s: %d rows inserted\n", name, counts[name])
	}
	fmt.Println("\nETL completed successfully.")
}

// openLoader picks the storage sink from the destination's shape: BigQuery
// for bq://project.dataset, SQLite for everything else.
func openLoader(ctx context.Context, target string) (pipeline.Loader, error) {
	if strings.HasPrefix(target, "bq://") {
		return infrabq.Open(ctx, target)
	}
	return sqlite.Open(target)
}
