package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gnemet/PoemWeaver/internal/ai"
	"github.com/gnemet/PoemWeaver/internal/config"
	"github.com/gnemet/PoemWeaver/internal/database"
	"github.com/gnemet/PoemWeaver/internal/i18n"
	"github.com/gnemet/PoemWeaver/internal/logging"
	"github.com/gnemet/PoemWeaver/internal/observer"
	"github.com/gnemet/PoemWeaver/internal/poem"
	"github.com/gnemet/PoemWeaver/internal/session"
	"github.com/gnemet/PoemWeaver/internal/web"
	"github.com/gnemet/PoemWeaver/ui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 10 * time.Second
	pruneInterval   = 10 * time.Minute
)

var (
	configPath    string
	portOverride  int
	secureCookies bool
)

var rootCmd = &cobra.Command{
	Use:           "poemweaver",
	Short:         "Serve the Poem Weaver form backed by Google Gemini",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runServe,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile, "path to config.yaml")
	rootCmd.Flags().IntVarP(&portOverride, "port", "p", 0, "listen port (overrides PORT)")
	rootCmd.Flags().BoolVar(&secureCookies, "secure-cookies", false, "mark cookies Secure (behind TLS)")
	rootCmd.AddCommand(checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if portOverride != 0 {
		cfg.Application.Port = portOverride
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Application.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := i18n.Init(); err != nil {
		return err
	}
	tmpl, err := ui.Templates()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}

	aiOpts := []ai.Option{ai.WithLogger(logger)}
	var webOpts []web.Option
	if secureCookies {
		webOpts = append(webOpts, web.WithSecureCookies())
	}

	// Usage ledger is optional.
	if cfg.Database.Enabled() {
		db, err := database.NewConnection(ctx, cfg.Database.URL, logger)
		if err != nil {
			return err
		}
		defer db.Close()

		ledger := database.NewLedger(db)
		if err := ledger.Migrate(ctx); err != nil {
			return err
		}
		aiOpts = append(aiOpts, ai.WithUsageRecorder(ledger))
		webOpts = append(webOpts, web.WithUsage(ledger))
	}

	client, err := ai.NewClient(ctx, cfg.AI, aiOpts...)
	if err != nil {
		return err
	}
	defer client.Close()

	sessions := session.NewStore(func() *poem.Controller {
		return poem.NewController(client, logger.Named("poem"))
	})
	srv := web.NewServer(sessions, tmpl, ui.Static(), logger.Named("web"), webOpts...)

	httpServer := &http.Server{
		Addr:              cfg.Application.Addr(),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("PoemWeaver starting", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if cfg.File != "" {
		obs := observer.NewObserver(cfg.File, func(ctx context.Context, next *config.Config) error {
			return client.Reconfigure(ctx, next.AI)
		}, logger.Named("observer"))
		g.Go(func() error { return obs.Start(gctx) })
	}

	g.Go(func() error {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := sessions.Prune(cfg.Application.SessionIdle); n > 0 {
					logger.Debug("Pruned idle sessions", zap.Int("count", n), zap.Int("remaining", sessions.Len()))
				}
			case <-gctx.Done():
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("PoemWeaver stopped")
	return nil
}
