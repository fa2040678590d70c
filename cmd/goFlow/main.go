package main

import (
	"log/slog"

	"github.com/els0r/goFlow/cmd/goFlow/cmd"
	"github.com/els0r/telemetry/logging"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		logger, _, _ := logging.New(slog.LevelInfo, "logfmt")
		logger.With("error", err).Fatal("goFlow terminated with an error")
	}
}
