package main

import (
	"os"

	"outbound-pool/internal/app"
	"outbound-pool/internal/common/logging"
)

// @title Outbound Pool Admin API
// @version 1.0
// @description Health, statistics and circuit breaker management for the outbound HTTP pool
// @BasePath /
func main() {
	if err := app.Run(); err != nil {
		logging.Error("Application exited with error", err)
		logging.MustSync()
		os.Exit(1)
	}
}
