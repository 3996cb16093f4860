// Package app is the composition root: it wires the database, ledger,
// learner, prediction engine, router and HTTP proxy into one running
// server and owns the process's graceful shutdown.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/cruiseproxy/cruise/internal/config"
	"github.com/cruiseproxy/cruise/internal/db"
	"github.com/cruiseproxy/cruise/internal/learner"
	"github.com/cruiseproxy/cruise/internal/ledger"
	"github.com/cruiseproxy/cruise/internal/prediction"
	"github.com/cruiseproxy/cruise/internal/proxy"
	"github.com/cruiseproxy/cruise/internal/router"
	"github.com/cruiseproxy/cruise/internal/util"
)

// Migrate opens the database named by cfg and runs auto-migration. It is
// split out from Build/Run so an operator can migrate without starting a
// server.
func Migrate(cfg config.AppConfig) error {
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return fmt.Errorf("app: open database: %w", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return fmt.Errorf("app: unwrap database: %w", err)
	}
	defer sqlDB.Close()

	if err := db.Migrate(conn); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}
	return nil
}

// Server is a fully wired cruise instance ready to serve HTTP traffic.
type Server struct {
	ledger  *ledger.Ledger
	cleaner *ledger.RetentionCleaner
	httpSrv *http.Server
}

// Build opens the database, runs migrations, and wires every subsystem
// together. The returned Server has not started listening yet; call Run.
func Build(ctx context.Context, cfg config.AppConfig) (*Server, error) {
	log.WithField("db", util.MaskSensitiveQuery(cfg.DatabaseDSN)).Info("app: opening database")
	conn, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("app: open database: %w", err)
	}
	if err := db.Migrate(conn); err != nil {
		return nil, fmt.Errorf("app: migrate: %w", err)
	}

	led, err := ledger.Open(conn, cfg.ProjectPath)
	if err != nil {
		return nil, fmt.Errorf("app: open ledger: %w", err)
	}
	log.WithField("session_id", led.CurrentSessionID()).Info("app: session started")

	lr, err := learner.New(ctx, led)
	if err != nil {
		return nil, fmt.Errorf("app: build learner: %w", err)
	}
	pred := prediction.New(led, lr)

	routerCfg, err := config.RouterConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("app: build router config: %w", err)
	}
	rt := router.New(routerCfg)

	targets := config.ProviderTargets(routerCfg)
	proxyProviders := make(map[string]proxy.ProviderTarget, len(targets))
	for name, t := range targets {
		proxyProviders[name] = proxy.ProviderTarget{Name: t.Name, Kind: t.Kind, BaseURL: t.BaseURL, APIKey: t.APIKey}
		log.WithFields(log.Fields{"provider": name, "base_url": t.BaseURL, "api_key": util.HideAPIKey(t.APIKey)}).Info("app: provider configured")
	}

	engine := proxy.New(led, rt, pred, lr, proxyProviders)

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger())
	engine.RegisterRoutes(r)

	return &Server{
		ledger:  led,
		cleaner: ledger.NewRetentionCleaner(led, 30),
		httpSrv: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      r,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // streaming responses can run long
		},
	}, nil
}

// Run starts serving until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.cleaner.Start(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.httpSrv.Addr).Info("app: listening")
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		log.Info("app: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("app: http shutdown error")
		}
		if err := s.ledger.Close(); err != nil {
			log.WithError(err).Warn("app: ledger close error")
		}
		return nil
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		reqPath := c.Request.URL.Path
		rawQuery := c.Request.URL.RawQuery
		c.Next()

		fields := log.Fields{
			"status":  c.Writer.Status(),
			"method":  c.Request.Method,
			"path":    reqPath,
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		}
		if rawQuery != "" {
			fields["query"] = util.MaskSensitiveQuery(rawQuery)
		}
		log.WithFields(fields).Debug("app: request handled")
	}
}
