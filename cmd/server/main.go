// Package main is the entry point for the markdok server.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/CageChen/markdok/internal/config"
	"github.com/CageChen/markdok/internal/docs"
	"github.com/CageChen/markdok/internal/handler"
	"github.com/CageChen/markdok/internal/importer"
	"github.com/CageChen/markdok/internal/logging"
	"github.com/CageChen/markdok/internal/markdown"
	"github.com/CageChen/markdok/internal/metrics"
	"github.com/CageChen/markdok/internal/store"
	"github.com/CageChen/markdok/internal/store/postgres"
	"github.com/CageChen/markdok/internal/watcher"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logging.Init(cfg.Log); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to init logging: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logging.Sync() }()

	if err := run(cfg); err != nil {
		logging.L().Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	log := logging.L()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("markdok - markdown document namespace",
		zap.String("config", cfg.GetConfigFilePath()),
		zap.String("driver", cfg.Database.Driver),
		zap.Int("folders", len(cfg.Folders)))

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { _ = st.Close() }()

	svc := docs.NewService(st, markdown.NewParser(markdown.StyleForTheme(cfg.Theme)))
	if err := svc.EnsureRoot(ctx); err != nil {
		return err
	}

	wsHandler := handler.NewWSHandler()
	svc.OnChange(wsHandler.OnChange)

	imp := importer.New(cfg, svc)
	imp.ImportAll(ctx)
	if n, err := svc.Count(ctx); err == nil {
		log.Info("namespace ready", zap.Int64("entries", n))
	}

	if cfg.Watch {
		w, err := watcher.New(cfg)
		if err != nil {
			log.Warn("failed to create file watcher", zap.Error(err))
		} else {
			w.OnChange(func(ev watcher.Event) {
				if err := imp.Apply(ctx, ev); err != nil {
					log.Warn("sync failed", zap.String("path", ev.Path), zap.Error(err))
				}
			})
			if err := w.Start(); err != nil {
				log.Warn("failed to start file watcher", zap.Error(err))
			}
			defer func() { _ = w.Stop() }()
			log.Info("file watcher enabled")
		}
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.Middleware())
	r.Use(metrics.Middleware())
	r.Use(corsMiddleware())

	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	r.GET("/healthz", healthz(svc))
	handler.Register(r, svc, wsHandler)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	if cfg.Open {
		go openBrowser(fmt.Sprintf("http://localhost:%d", cfg.Port))
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", fmt.Sprintf("http://localhost:%d", cfg.Port)))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore opens the configured store and, for postgres, applies migrations
// and starts publishing pool metrics.
func openStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Store, error) {
	switch cfg.Database.Driver {
	case config.DriverPostgres:
		pg, err := postgres.New(ctx, cfg.Database.DSN, postgres.Options{MaxOpenConns: cfg.Database.MaxOpenConns})
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, err
		}
		go func() {
			ticker := time.NewTicker(15 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					pg.UpdateConnectionMetrics()
				}
			}
		}()
		log.Info("using postgres store")
		return pg, nil
	default:
		log.Info("using in-memory store")
		return store.NewMemory(), nil
	}
}

func healthz(svc *docs.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		n, err := svc.Count(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": docs.Message(err)})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "entries": n})
	}
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func openBrowser(url string) {
	var cmd string
	var args []string

	switch runtime.GOOS {
	case "windows":
		cmd = "rundll32"
		args = []string{"url.dll,FileProtocolHandler", url}
	case "darwin":
		cmd = "open"
		args = []string{url}
	default: // linux, etc.
		cmd = "xdg-open"
		args = []string{url}
	}

	_ = exec.Command(cmd, args...).Start()
}
