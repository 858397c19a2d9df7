package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dgallion1/docquote/internal/config"
	"github.com/dgallion1/docquote/internal/market"
	"github.com/dgallion1/docquote/internal/mcpserver"
)

var version = "dev"

func main() {
	// stdout carries the stdio transport, so logs go to stderr.
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("load configuration", "error", err)
		os.Exit(1)
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if err := cfg.ValidateMarket(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	yahoo := market.NewYahooClient(cfg.MarketBaseURL, cfg.MarketTimeout)
	defer yahoo.Close()

	srv := mcpserver.New(market.NewService(yahoo, log), version, log)

	switch cfg.MarketTransport {
	case "sse":
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		err = srv.ServeSSE(ctx, cfg.MarketAddr, sseBaseURL(cfg.MarketAddr))
	default:
		err = srv.ServeStdio()
	}
	if err != nil {
		log.Error("mcp server error", "transport", cfg.MarketTransport, "error", err)
		os.Exit(1)
	}
}

func sseBaseURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "http://localhost" + addr
	}
	return "http://" + addr
}
