// Package api serves the HTTP control plane: session lifecycle, engagement
// measurements from the browser, the interview catalog and finished
// analyses.
//
// Routes:
//
//	GET  /healthz, /readyz, /metrics
//	GET  /api/sessions/statuses
//	POST /api/sessions
//	GET  /api/sessions
//	GET  /api/sessions/{session_id}
//	POST /api/sessions/{session_id}/start
//	POST /api/sessions/{session_id}/stop
//	POST /api/sessions/{session_id}/engagement
//	GET  /api/analyses?limit=&includePending=
//	GET  /api/analyses/{conversation_id}
//	GET  /api/interviews
//	GET  /rooms/{room}/audio      (when a room handler is configured)
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/nwang783/just-in-case/internal/analysis"
	"github.com/nwang783/just-in-case/internal/engagement"
	"github.com/nwang783/just-in-case/internal/health"
	"github.com/nwang783/just-in-case/internal/interview"
	"github.com/nwang783/just-in-case/internal/observe"
	"github.com/nwang783/just-in-case/internal/session"
)

// Sessions is the session lifecycle used by the API. *session.Manager
// satisfies it.
type Sessions interface {
	Create(ctx context.Context, companySlug, interviewType string) (session.Record, error)
	Get(ctx context.Context, id string) (session.Record, error)
	List(ctx context.Context) ([]session.Record, error)
	Start(ctx context.Context, id string) (session.Record, error)
	Stop(ctx context.Context, id string) (session.Record, error)
	Statuses() []session.Status
	Engagement(ctx context.Context, id string, m engagement.Measurement) ([]engagement.Event, error)
}

// Analyses reads finished and pending analyses. *analysis.Repository
// satisfies it.
type Analyses interface {
	List(limit int, includePending bool) ([]analysis.Status, error)
	Status(conversationID string) (analysis.Status, bool)
}

// Config holds the dependencies of a [Server].
type Config struct {
	Sessions Sessions
	Analyses Analyses
	Catalog  *interview.Catalog

	// Health serves /healthz and /readyz. Nil serves a bare liveness check.
	Health *health.Handler

	// Metrics serves /metrics. Nil disables the route.
	Metrics http.Handler

	// Rooms serves participant room connections under /rooms/. Optional.
	Rooms http.Handler

	// AllowedOrigins extends [DefaultOrigins] for CORS.
	AllowedOrigins []string

	// Thresholds convert raw detector signals posted to the engagement
	// endpoint. Zero value selects [engagement.DefaultThresholds].
	Thresholds engagement.Thresholds

	Telemetry *observe.Metrics
}

// Server routes API requests.
type Server struct {
	cfg Config
	mux *http.ServeMux
}

// New returns a Server with all routes registered.
func New(cfg Config) *Server {
	if cfg.Thresholds == (engagement.Thresholds{}) {
		cfg.Thresholds = engagement.DefaultThresholds()
	}
	if cfg.Telemetry == nil {
		cfg.Telemetry = observe.DefaultMetrics()
	}
	if cfg.Health == nil {
		cfg.Health = health.New()
	}
	s := &Server{cfg: cfg, mux: http.NewServeMux()}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.cfg.Health.Register(s.mux)
	if s.cfg.Metrics != nil {
		s.mux.Handle("GET /metrics", s.cfg.Metrics)
	}

	s.mux.HandleFunc("GET /api/sessions/statuses", s.handleStatuses)
	s.mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /api/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /api/sessions/{session_id}", s.handleGetSession)
	s.mux.HandleFunc("POST /api/sessions/{session_id}/start", s.handleStartSession)
	s.mux.HandleFunc("POST /api/sessions/{session_id}/stop", s.handleStopSession)
	s.mux.HandleFunc("POST /api/sessions/{session_id}/engagement", s.handleEngagement)

	s.mux.HandleFunc("GET /api/analyses", s.handleListAnalyses)
	s.mux.HandleFunc("GET /api/analyses/{conversation_id}", s.handleGetAnalysis)

	s.mux.HandleFunc("GET /api/interviews", s.handleInterviews)

	if s.cfg.Rooms != nil {
		s.mux.Handle("/rooms/", s.cfg.Rooms)
	}
}

// Handler returns the full handler chain: CORS, then tracing, metrics and
// request logging, then the routes.
func (s *Server) Handler() http.Handler {
	return CORS(s.cfg.AllowedOrigins)(observe.Middleware(s.cfg.Telemetry)(s.mux))
}

// LogOrigins logs the effective CORS origins once at startup.
func LogOrigins(extra []string) {
	slog.Info("allowed CORS origins", "origins", Origins(extra))
}
