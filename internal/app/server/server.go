package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexgthegreat/StudySync-22/internal/app/server/handlers"
	"github.com/alexgthegreat/StudySync-22/internal/config"
	"github.com/alexgthegreat/StudySync-22/internal/core/services"
	"github.com/alexgthegreat/StudySync-22/pkg/middleware"
)

type Server struct {
	log            *slog.Logger
	mux            *http.ServeMux
	cfg            *config.Config
	wsHandler      *handlers.WSHandler
	historyHandler *handlers.HistoryHandler
	tokenSvc       *services.TokenService
}

func NewServer(
	log *slog.Logger,
	cfg *config.Config,
	tokenSvc *services.TokenService,
	chatSvc *services.ChatService,
) *Server {
	s := &Server{
		log:            log,
		mux:            http.NewServeMux(),
		cfg:            cfg,
		wsHandler:      handlers.NewWSHandler(chatSvc, cfg.Chat),
		historyHandler: handlers.NewHistoryHandler(chatSvc),
		tokenSvc:       tokenSvc,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	auth := middleware.AuthMiddleware(s.tokenSvc)
	logReq := middleware.RequestLogger(s.log)
	traced := middleware.TracerMiddleware(s.cfg.Service.Name)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	s.mux.Handle("GET /ws", traced(logReq(auth(http.HandlerFunc(s.wsHandler.Handler)))))
	s.mux.Handle("GET /api/groups/{id}/messages", traced(logReq(auth(http.HandlerFunc(s.historyHandler.Handler)))))
}

// Handler exposes the routed mux; the integration tests mount it on a
// test server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start runs the HTTP server until ctx is cancelled, then drains it.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.cfg.Service.Addr,
		Handler:     s.mux,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: it does not apply to hijacked websocket
		// connections and would cut long history responses short only.
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting", "addr", s.cfg.Service.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.log.Info("server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
