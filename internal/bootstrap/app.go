package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/yanqian/sqlassistant/internal/domain/assistant"
	"github.com/yanqian/sqlassistant/internal/domain/conversation"
	"github.com/yanqian/sqlassistant/internal/domain/fewshot"
	"github.com/yanqian/sqlassistant/internal/infra/config"
)

// App owns the wired services and exposes the serve, ask and reindex entry points.
type App struct {
	cfg       *config.Config
	logger    *slog.Logger
	server    *http.Server
	index     *fewshot.Index
	assistant assistant.Service
	history   conversation.Service
}

// NewApp is used by Wire to build the runnable app.
func NewApp(
	cfg *config.Config,
	logger *slog.Logger,
	server *http.Server,
	index *fewshot.Index,
	assistantSvc assistant.Service,
	historySvc conversation.Service,
) *App {
	return &App{
		cfg:       cfg,
		logger:    logger.With("component", "bootstrap"),
		server:    server,
		index:     index,
		assistant: assistantSvc,
		history:   historySvc,
	}
}

// Run loads or builds the example index, then serves HTTP until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if err := a.initIndex(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server starting", "address", a.cfg.HTTP.Address)
		if err := a.server.ListenAndServe(); err != nil {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.logger.Info("shutdown signal received")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Ask answers a single question in a throwaway session.
func (a *App) Ask(ctx context.Context, question string) (assistant.Result, error) {
	if err := a.initIndex(ctx); err != nil {
		return assistant.Result{}, err
	}
	session, err := a.history.Start(ctx)
	if err != nil {
		return assistant.Result{}, err
	}
	return a.assistant.Ask(ctx, session, question)
}

// Reindex re-embeds every exemplar and overwrites the persisted snapshot.
func (a *App) Reindex(ctx context.Context) (int, error) {
	start := time.Now()
	if err := a.index.Rebuild(ctx); err != nil {
		return 0, fmt.Errorf("rebuild example index: %w", err)
	}
	a.logger.Info("example index rebuilt", "exemplars", a.index.Size(), "backend", a.cfg.Index.Backend, "elapsed", time.Since(start).String())
	return a.index.Size(), nil
}

func (a *App) initIndex(ctx context.Context) error {
	start := time.Now()
	if err := a.index.Init(ctx); err != nil {
		return fmt.Errorf("initialize example index: %w", err)
	}
	a.logger.Info("example index ready", "exemplars", a.index.Size(), "backend", a.cfg.Index.Backend, "elapsed", time.Since(start).String())
	return nil
}
