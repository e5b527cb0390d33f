// Package httpapi is the HTTP surface of the control plane: Projects, Work
// items, Runs, Info requests, Scheduler, and Observability endpoints, plus
// the WebSocket live-log transport. Grounded on the teacher's BaseAgent.Start
// middleware chain (CORS outermost, then user middleware, then logging, then
// recovery innermost) and its http.ServeMux-based routing.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"gopkg.in/yaml.v3"

	"github.com/orbital-run/jobctl/approval"
	"github.com/orbital-run/jobctl/domain"
	"github.com/orbital-run/jobctl/inforequest"
	"github.com/orbital-run/jobctl/lease"
	"github.com/orbital-run/jobctl/logbus"
	"github.com/orbital-run/jobctl/platform"
	"github.com/orbital-run/jobctl/quota"
	"github.com/orbital-run/jobctl/retry"
	"github.com/orbital-run/jobctl/runlifecycle"
	"github.com/orbital-run/jobctl/scheduler"
	"github.com/orbital-run/jobctl/store"
)

// Server wires every domain component to HTTP routes.
type Server struct {
	cfg               *platform.Config
	store             store.Store
	bus               *logbus.Bus
	lease             *lease.Manager
	gate              *approval.Gate
	info              *inforequest.Channel
	scheduler         *scheduler.Scheduler
	lifecycle         *runlifecycle.Lifecycle
	quota             *quota.Meter
	clock             platform.Clock
	logger            platform.Logger
	httpServer        *http.Server
	startedAt         time.Time
	defaultRetryPolicy retry.Policy
}

// Deps bundles the components Server needs, constructed by cmd/server's
// wiring.
type Deps struct {
	Config             *platform.Config
	Store              store.Store
	Bus                *logbus.Bus
	Lease              *lease.Manager
	Gate               *approval.Gate
	Info               *inforequest.Channel
	Scheduler          *scheduler.Scheduler
	Lifecycle          *runlifecycle.Lifecycle
	Quota              *quota.Meter
	Clock              platform.Clock
	Logger             platform.ComponentLogger
	DefaultRetryPolicy retry.Policy
}

// NewServer builds a Server from Deps.
func NewServer(d Deps) *Server {
	return &Server{
		cfg:                d.Config,
		store:              d.Store,
		bus:                d.Bus,
		lease:              d.Lease,
		gate:               d.Gate,
		info:               d.Info,
		scheduler:          d.Scheduler,
		lifecycle:          d.Lifecycle,
		quota:              d.Quota,
		clock:              d.Clock,
		logger:             d.Logger.WithComponent("httpapi"),
		startedAt:          d.Clock.Now(),
		defaultRetryPolicy: d.DefaultRetryPolicy,
	}
}

// Handler builds the full middleware-wrapped http.Handler: otelhttp
// (outermost), CORS, edge rate limiting, request-id, logging, recovery
// (innermost).
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerProjectRoutes(mux)
	s.registerWorkItemRoutes(mux)
	s.registerRunRoutes(mux)
	s.registerInfoRequestRoutes(mux)
	s.registerSchedulerRoutes(mux)
	s.registerObservabilityRoutes(mux)

	var handler http.Handler = mux
	handler = platform.RecoveryMiddleware(s.logger)(handler)
	handler = platform.LoggingMiddleware(s.logger)(handler)
	handler = platform.RequestIDMiddleware(handler)

	if s.cfg.RateLimitPerMin > 0 {
		limiter := platform.NewEdgeRateLimiter(s.cfg.RateLimitPerMin)
		handler = limiter.Middleware(handler)
	}

	corsCfg := platform.CORSConfig{Enabled: len(s.cfg.CORSOrigins) > 0, AllowedOrigins: s.cfg.CORSOrigins}
	handler = platform.CORSMiddleware(corsCfg)(handler)

	return otelhttp.NewHandler(handler, "jobctl.http")
}

// Start builds the http.Server and serves until Shutdown is called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       s.cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: s.cfg.HTTP.ReadHeaderTimeout,
		WriteTimeout:      s.cfg.HTTP.WriteTimeout,
		IdleTimeout:       s.cfg.HTTP.IdleTimeout,
	}
	s.logger.Info("starting http server", map[string]interface{}{"addr": s.cfg.HTTP.Addr})
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// ---- response conventions ----

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error  string `json:"error"`
	Entity string `json:"entity,omitempty"`
	ID     string `json:"id,omitempty"`
	Reason string `json:"reason,omitempty"`
}

func writeError(w http.ResponseWriter, err error) {
	status := platform.HTTPStatus(err)
	body := errorBody{Error: err.Error()}
	var perr *platform.Error
	if errors.As(err, &perr) {
		body.Entity = perr.Entity
		body.ID = perr.ID
		body.Reason = perr.Reason
	}
	writeJSON(w, status, body)
}

func decodeJSON(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return platform.NewError("decode_body", platform.KindValidation, "invalid request body: "+err.Error())
	}
	return nil
}

// decodeYAML parses the request body as opaque YAML into node; used for
// the tool-recipe upload, which the core never interprets beyond carrying
// it as a yaml.Node.
func decodeYAML(r *http.Request, node *yaml.Node) ([]byte, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, platform.NewError("decode_body", platform.KindValidation, "cannot read request body")
	}
	if err := yaml.Unmarshal(data, node); err != nil {
		return nil, platform.NewError("decode_body", platform.KindValidation, "invalid YAML tool recipe: "+err.Error())
	}
	return data, nil
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func validationErr(msg string) error {
	return platform.NewError("httpapi", platform.KindValidation, msg)
}

func runLogEntryDTO(e *domain.LogEntry) map[string]interface{} {
	return map[string]interface{}{
		"run_id":    e.RunID,
		"seq":       e.Seq,
		"timestamp": e.Timestamp.UTC().Format(time.RFC3339Nano),
		"stream":    e.Stream,
		"text":      e.Text,
	}
}
