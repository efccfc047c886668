// Command mockagent serves scripted LinkBox streams for local development.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xiaot623/gogo/linkbox/internal/config"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
	"github.com/xiaot623/gogo/linkbox/internal/transport/http/mockagent"
)

func main() {
	configPath := flag.String("config", "", "directory containing linkbox.yaml")
	mint := flag.Bool("mint-token", false, "print a development token and exit")
	userID := flag.Int64("user-id", 1, "user_id claim for -mint-token")
	username := flag.String("username", "dev", "username claim for -mint-token")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime for -mint-token")
	flag.Parse()

	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if *mint {
		token, err := mockagent.MintToken(cfg.Mock.JWTSecret, *userID, *username, *ttl)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("mock agent stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	scenario := mockagent.DefaultScenario()
	if cfg.Mock.ScenarioFile != "" {
		sc, err := mockagent.LoadScenario(cfg.Mock.ScenarioFile)
		if err != nil {
			return err
		}
		scenario = sc
	}

	server, err := mockagent.NewServer(mockagent.Options{
		JWTSecret:  cfg.Mock.JWTSecret,
		FrameDelay: cfg.Mock.FrameDelay(),
		Scenario:   scenario,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.Mock.Port)
		log.Info("mock agent listening", zap.String("addr", addr), zap.String("scenario", cfg.Mock.ScenarioFile))
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down mock agent")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
