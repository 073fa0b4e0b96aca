package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/joelkehle/cancer-navigator/internal/catalog"
	"github.com/joelkehle/cancer-navigator/internal/chat"
	"github.com/joelkehle/cancer-navigator/internal/config"
	"github.com/joelkehle/cancer-navigator/internal/imaging"
	"github.com/joelkehle/cancer-navigator/internal/llm"
	"github.com/joelkehle/cancer-navigator/internal/logging"
	"github.com/joelkehle/cancer-navigator/internal/report"
	"github.com/joelkehle/cancer-navigator/internal/session"
	"github.com/joelkehle/cancer-navigator/internal/stats"
	"github.com/joelkehle/cancer-navigator/internal/telemetry"
	"github.com/joelkehle/cancer-navigator/internal/trials"
	"github.com/joelkehle/cancer-navigator/internal/vault"
	"github.com/joelkehle/cancer-navigator/internal/web"
)

var version = "dev"

func main() {
	var (
		addr   = flag.String("addr", ":8501", "HTTP listen address")
		webDir = flag.String("web-dir", "", "Directory containing web UI files (default: web/ relative to binary)")
		dev    = flag.Bool("dev", false, "Human-readable debug logging")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// The logger depends on config, so report with a bare one.
		zap.NewExample().Fatal("invalid configuration", zap.Error(err))
	}

	logger := logging.New(logging.Options{Dev: *dev, File: cfg.LogFile})
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, *addr, resolveWebDir(*webDir), logger); err != nil {
		logger.Fatal("navigator stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, addr, webDir string, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := telemetry.Init(ctx, telemetry.Options{Enabled: cfg.OTelEnabled, Endpoint: cfg.OTelEndpoint, Version: version}, logger)
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	}
	defer func() {
		sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer scancel()
		_ = shutdownTracing(sctx)
	}()

	tree, err := catalog.Default()
	if err != nil {
		return err
	}
	sealer, err := vault.NewSealer(cfg.EncryptionKey)
	if err != nil {
		return err
	}
	model, err := llm.New(llm.Config{Provider: cfg.LLMProvider, APIKey: cfg.LLMAPIKey, Model: cfg.LLMModel, BaseURL: cfg.LLMBaseURL})
	if err != nil {
		return err
	}

	var store session.Store
	if cfg.SessionDB != "" {
		sq, err := session.NewSQLiteStore(cfg.SessionDB, cfg.SessionTTL, logger)
		if err != nil {
			return err
		}
		store = sq
	} else {
		store = session.NewMemoryStore(cfg.SessionTTL)
	}
	defer store.Close()

	searcher := trials.NewClient(trials.Config{BaseURL: cfg.TrialsBaseURL})
	handler := web.NewServer(web.Deps{
		Catalog:  tree,
		Sessions: store,
		Stats:    stats.NewResolver(tree, model, logger),
		Reports:  report.NewGenerator(searcher, model, report.Config{PageSize: cfg.TrialsPageSize, MaxTrialsBytes: cfg.TrialsMaxBytes}, logger),
		Chat:     chat.NewBridge(model, logger),
		Analyzer: imaging.NewAnalyzer(model, logger),
		Sealer:   sealer,
		PDF:      web.NewChromiumPDFRenderer(webDir),
		Logger:   logger,
		WebDir:   webDir,
	})

	logger.Info("navigator listening",
		zap.String("addr", addr),
		zap.String("provider", cfg.LLMProvider),
		zap.String("model", model.ModelName()),
		zap.Bool("persistent_sessions", cfg.SessionDB != ""),
	)
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		sctx, scancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer scancel()
		_ = srv.Shutdown(sctx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func resolveWebDir(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	exe, _ := os.Executable()
	dir := filepath.Join(filepath.Dir(exe), "..", "..", "web")
	if _, err := os.Stat(dir); err != nil {
		dir = "web"
	}
	return dir
}
