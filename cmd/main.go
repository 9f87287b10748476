package main

import (
	"context"
	"errors"
	"os"

	"github.com/desertthunder/dmx/internal/shared"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	runner := NewRunner(RunnerOpts{Logger: logger})

	app := &cli.Command{
		Name:     "dmx",
		Usage:    "Migrate record sets between orgs and CSV file stores",
		Version:  "0.1.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrAborted) {
			logger.Warn("run aborted")
			os.Exit(130)
		}
		logger.Fatalf("application error: %v", err)
	}
}
