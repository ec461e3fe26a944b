package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/sundayezeilo/deeplink/checkstate/pgstore"
	"github.com/sundayezeilo/deeplink/internal/config"
)

const (
	exitSuccess = 0
	exitFailure = 1
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: migrate <up|down>")
		return exitFailure
	}

	dir := pgstore.Direction(args[0])
	if dir != pgstore.Up && dir != pgstore.Down {
		fmt.Fprintf(os.Stderr, "Invalid direction: %q (must be \"up\" or \"down\")\n", args[0])
		return exitFailure
	}

	if env := os.Getenv("APP_ENV"); env == "development" || env == "test" {
		_ = godotenv.Load()
	}

	db, err := config.LoadDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return exitFailure
	}

	if err := pgstore.Migrate(db.URL(), dir); err != nil {
		fmt.Fprintf(os.Stderr, "Migration %s failed: %v\n", dir, err)
		return exitFailure
	}

	fmt.Printf("Migration %s completed successfully\n", dir)
	return exitSuccess
}
