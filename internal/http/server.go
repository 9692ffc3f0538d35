package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/delivery-tracking/internal/apperr"
	"github.com/example/delivery-tracking/internal/auth"
	"github.com/example/delivery-tracking/internal/config"
	"github.com/example/delivery-tracking/internal/models"
	"github.com/example/delivery-tracking/internal/rooms"
	"github.com/example/delivery-tracking/internal/router"
)

// ReadinessCheck is probed by /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Deps struct {
	Auth      *auth.Authenticator
	Registry  *rooms.Registry
	Router    *router.Router
	WS        config.WSConfig
	Logger    *slog.Logger
	Readiness []ReadinessCheck
}

type Server struct {
	auth      *auth.Authenticator
	registry  *rooms.Registry
	router    *router.Router
	ws        config.WSConfig
	upgrader  websocket.Upgrader
	logger    *slog.Logger
	readiness []ReadinessCheck
	mux       *mux.Router
}

func NewServer(d Deps) *Server {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	s := &Server{
		auth:      d.Auth,
		registry:  d.Registry,
		router:    d.Router,
		ws:        d.WS,
		logger:    d.Logger,
		readiness: d.Readiness,
		mux:       mux.NewRouter(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(d.WS.AllowedOrigins),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/ws", s.handleWS).Methods("GET")
	s.mux.HandleFunc("/internal/orders/{order_id}/assignment", s.handleNotifyAssignment).Methods("POST")
	s.mux.HandleFunc("/internal/orders/{order_id}/status", s.handleNotifyStatus).Methods("POST")
	s.mux.HandleFunc("/internal/rooms", s.handleRooms).Methods("GET")
	s.mux.HandleFunc("/healthz", s.handleHealthz).Methods("GET")
	s.mux.HandleFunc("/ready", s.handleReady).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		s.logger.Debug("healthz_write_failed", "error", err)
	}
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	for _, c := range s.readiness {
		if err := c.Check(ctx); err != nil {
			s.logger.Warn("readiness_failed", "check", c.Name, "error", err)
			http.Error(w, c.Name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ready")); err != nil {
		s.logger.Debug("ready_write_failed", "error", err)
	}
}

// identify authenticates an internal API call from its bearer credential.
func (s *Server) identify(r *http.Request) (models.Identity, error) {
	cred, err := auth.FromRequest(r)
	if err != nil {
		return models.Identity{}, apperr.New(apperr.Unauthenticated, "credential missing")
	}
	return s.auth.Authenticate(r.Context(), cred)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.Internal {
		s.logger.Error("request_failed", "route", routeTemplate(r), "error", err)
	}
	writeJSON(w, apperr.HTTPStatus(err), models.ErrorPayload{Code: string(kind), Message: apperr.PublicMessage(err)})
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return nil // gorilla's same-origin default
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}
