// Copyright 2025 Atadata
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"

	"github.com/matt-atadata/snowflake-mcp-server/internal/mcp"
	"github.com/matt-atadata/snowflake-mcp-server/internal/oauth"
	"github.com/matt-atadata/snowflake-mcp-server/internal/snowflake"
	"github.com/matt-atadata/snowflake-mcp-server/pkg/config"
)

var (
	version   = "0.1.0"
	buildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	showVersion := flag.Bool("version", false, "Show version information")
	allowWrite := flag.Bool("allow-write", false, "Allow INSERT/UPDATE/DELETE/DDL statements through execute_query")
	transport := flag.String("transport", "", "Transport to use: stdio or sse")
	port := flag.Int("port", 0, "Port for the SSE transport")
	authMethod := flag.String("auth-method", "", "Authentication method: password or oauth")
	login := flag.Bool("login", false, "Run the interactive OAuth login flow and exit")
	logFile := flag.String("log-file", "", "Write logs to this file instead of stderr")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, or error")
	flag.Parse()

	if *showVersion {
		fmt.Printf("snowflake-mcp-server version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Missing .env is fine, environment wins either way
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if *allowWrite {
		cfg.AllowWrite = true
	}
	if *transport != "" {
		cfg.Transport = *transport
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *authMethod != "" {
		cfg.AuthMethod = config.AuthMethod(strings.ToLower(*authMethod))
	}
	if *logFile != "" {
		cfg.LogFile = *logFile
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, closeLog, err := buildLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("shutdown signal received, closing connections")
		cancel()
	}()

	var tokens *oauth.Manager
	if cfg.UsesOAuth() {
		tokens = oauth.NewManager(oauth.Config{
			Account:      cfg.Account,
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURI:  cfg.OAuth.RedirectURI,
			CacheFile:    cfg.OAuth.TokenCacheFile,
			Logger:       logger,
		})
	}

	if *login {
		if tokens == nil {
			logger.Error("the login flow requires oauth authentication",
				"auth_method", string(cfg.AuthMethod))
			os.Exit(1)
		}
		flow := &oauth.Flow{
			Manager: tokens,
			Port:    cfg.OAuth.CallbackPort,
			Logger:  logger,
		}
		if err := flow.Login(ctx); err != nil {
			logger.Error("OAuth login failed", "error", err)
			os.Exit(1)
		}
		logger.Info("OAuth login complete, tokens cached",
			"cache_file", cfg.OAuth.TokenCacheFile)
		return
	}

	if tokens != nil && !tokens.HasValidTokens() {
		logger.Warn("no valid OAuth tokens cached, run with --login first")
	}

	pool := snowflake.NewManager(snowflake.ManagerConfig{
		Base: snowflake.Principal{
			Account:   cfg.Account,
			User:      cfg.User,
			Password:  cfg.Password,
			Role:      cfg.Role,
			Warehouse: cfg.Warehouse,
			Database:  cfg.Database,
			Schema:    cfg.Schema,
		},
		Dialer:  snowflake.NewDialer(time.Duration(cfg.LoginTimeoutSec) * time.Second),
		Tokens:  tokenSource(tokens),
		MaxIdle: cfg.MaxPoolSize,
		Logger:  logger,
	})
	defer pool.Close()

	server := mcp.NewServer(pool, cfg, tokens, logger)
	if err := server.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("MCP server error", "error", err)
		os.Exit(1)
	}
}

// tokenSource adapts a possibly-nil *oauth.Manager to the pool's TokenSource.
// A plain conversion would produce a non-nil interface wrapping a nil pointer.
func tokenSource(m *oauth.Manager) snowflake.TokenSource {
	if m == nil {
		return nil
	}
	return m
}

// buildLogger sets up slog output. Logs go to the configured file, or to
// stderr with colors when attached to a terminal. Stdout is reserved for the
// stdio transport.
func buildLogger(cfg *config.Config) (*slog.Logger, func(), error) {
	level := parseLevel(cfg.LogLevel)

	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		handler := slog.NewTextHandler(f, &slog.HandlerOptions{Level: level})
		return slog.New(handler), func() { f.Close() }, nil
	}

	handler := tint.NewHandler(os.Stderr, &tint.Options{Level: level})
	return slog.New(handler), func() {}, nil
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
