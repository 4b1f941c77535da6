package app

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"outbound-pool/internal/common/logging"
	"outbound-pool/internal/config"
	"outbound-pool/internal/server"
)

const shutdownTimeout = 30 * time.Second

// Run is the main entry point for the application
func Run() error {
	// Load environment variables
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logConfig := logging.DefaultLogConfig()
	logConfig.Level = logging.ParseLevel(cfg.LogLevel)
	logConfig.Format = logging.ParseFormat(cfg.LogFormat)
	logger, err := logging.InitGlobalLogger(logConfig)
	if err != nil {
		return err
	}
	defer logging.MustSync()

	logger.Info("Starting outbound pool",
		logging.Int("cpus", runtime.NumCPU()),
		logging.String("admin_port", cfg.AdminPort),
	)

	app, err := New(cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize application", err)
		return err
	}

	srv := server.New(app.Handler(), cfg.AdminPort, logger)
	serveErr, err := srv.Start()
	if err != nil {
		logger.Error("Server failed to start", err)
		_ = app.Shutdown(context.Background())
		return err
	}

	if err := app.StartProbes(); err != nil {
		logger.Error("Failed to schedule probes", err)
		_ = app.Shutdown(context.Background())
		return err
	}

	// Wait for interrupt signal or a server failure
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case <-quit:
	case runErr = <-serveErr:
	}

	logger.Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", err)
	}
	if err := app.Shutdown(ctx); err != nil && runErr == nil {
		runErr = err
	}

	logger.Info("Server exited")
	return runErr
}
