package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"

	"github.com/brandon/imap-gateway/internal/config"
	"github.com/brandon/imap-gateway/internal/email"
	"github.com/brandon/imap-gateway/internal/gateway"
	"github.com/brandon/imap-gateway/internal/store"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")

	cpuProfileFlag  = flag.Bool("profile-cpu", false, "Enable CPU profiling.")
	memProfileFlag  = flag.Bool("profile-mem", false, "Enable memory profiling.")
	profilePathFlag = flag.String("profile-path", "", "Path where to write profile data.")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("imap-gateway version %s\n", version)
		os.Exit(0)
	}

	if *cpuProfileFlag {
		p := profile.Start(profile.CPUProfile, profile.ProfilePath(*profilePathFlag), profile.NoShutdownHook)
		defer p.Stop()
	}

	if *memProfileFlag {
		p := profile.Start(profile.MemProfile, profile.MemProfileAllocs, profile.ProfilePath(*profilePathFlag), profile.NoShutdownHook)
		defer p.Stop()
	}

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithField("version", version).Info("Starting IMAP gateway")
	if cfg.InsecureSkipVerify {
		logger.Warn("Mail server certificates are checked against the host name only, not trusted roots")
	}

	// Initialize audit store
	db, err := store.NewDB(cfg.StorePath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize audit store")
	}
	defer db.Close()

	auditStore := store.NewStore(db, logger)

	// Initialize session registry
	registry := email.NewRegistry(email.Dialer(email.Options{
		Port:               cfg.IMAPPort,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
		DecodeHeaders:      cfg.DecodeHeaders,
		LogoutTimeout:      cfg.LogoutTimeout,
	}, logger), logger)
	defer func() {
		if err := registry.Close(); err != nil {
			logger.WithError(err).Warn("Some sessions did not log out cleanly")
		}
	}()

	// Create HTTP gateway
	server, err := gateway.NewServer(cfg, registry, auditStore, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create gateway server")
	}

	// Set up signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Run(ctx); err != nil {
		logger.WithError(err).Error("Server error")
	}

	logger.Info("Shutting down IMAP gateway")
}
