// Package api serves the ops/dashboard HTTP surface: health, queue stats,
// meeting inspection, reprocess and cancel actions, subscription status,
// Prometheus metrics, and the live-event WebSocket.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recaphq/recap/pkg/config"
	"github.com/recaphq/recap/pkg/events"
	"github.com/recaphq/recap/pkg/queue"
	"github.com/recaphq/recap/pkg/store"
	"github.com/recaphq/recap/pkg/subscription"
)

const shutdownTimeout = 10 * time.Second

// Deps collects the server's collaborators. Pool, Subs, and Events may be
// nil; the affected endpoints degrade rather than fail at startup.
type Deps struct {
	DB        *sqlx.DB
	Meetings  *store.MeetingStore
	Parts     *store.ParticipantStore
	Summaries *store.SummaryStore
	Queue     *queue.Queue
	Pool      *queue.WorkerPool
	Subs      *subscription.Manager
	SubEvents *store.SubscriptionEventStore
	Events    *events.ConnectionManager
}

// Server is the ops API server.
type Server struct {
	deps Deps
	cfg  *config.Config
	log  *slog.Logger
}

// NewServer wires the ops API around its collaborators.
func NewServer(deps Deps, cfg *config.Config) *Server {
	return &Server{
		deps: deps,
		cfg:  cfg,
		log:  slog.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", s.handleWebSocket)

	v1 := r.Group("/api/v1")
	v1.GET("/health", s.handleHealth)
	v1.GET("/queue/stats", s.handleQueueStats)
	v1.GET("/meetings", s.handleListMeetings)
	v1.GET("/meetings/:id", s.handleGetMeeting)
	v1.POST("/meetings/:id/reprocess", s.handleReprocess)
	v1.DELETE("/meetings/:id/jobs", s.handleCancelJobs)
	v1.GET("/subscriptions", s.handleSubscriptions)

	return r
}

// Run serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context) error {
	addr := ":8080"
	if s.cfg != nil && s.cfg.API != nil && s.cfg.API.ListenAddr != "" {
		addr = s.cfg.API.ListenAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("API server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("API shutdown incomplete", "error", err)
		return srv.Close()
	}
	return nil
}
