package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlrules/internal/config"
	"github.com/JakeFAU/crawlrules/internal/crawler"
	"github.com/JakeFAU/crawlrules/internal/metrics"
	"github.com/JakeFAU/crawlrules/internal/middleware"
	"github.com/JakeFAU/crawlrules/internal/redirect"
	"github.com/JakeFAU/crawlrules/internal/robots"
)

const maxBodyBytes = 1 << 20

// RobotsLookup resolves the robots.txt governing a live URL.
type RobotsLookup interface {
	UserAgent() string
	Lookup(ctx context.Context, rawURL string) (*robots.RobotsTxt, crawler.RobotsStatus)
}

// Server wires HTTP handlers to the robots enforcer and redirect resolver.
type Server struct {
	router chi.Router
	robots RobotsLookup
	logger *zap.Logger
	ready  atomic.Bool
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	robotsLookup RobotsLookup,
	idGen middleware.IDGenerator,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		robots: robotsLookup,
		logger: logger,
	}
	s.ready.Store(true)

	r := chi.NewRouter()
	r.Use(middleware.RequestID(idGen))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Metrics)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout()))
		if cfg.Auth.Enabled {
			r.Use(middleware.APIKey(cfg.Auth.APIKey))
		}
		r.Get("/robots/check", s.checkRobots)
		r.Post("/robots/evaluate", s.evaluateRobots)
		r.Post("/redirects/resolve", s.resolveRedirect)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// SetReady flips the readiness probe; shutdown marks the server unready first.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if !s.ready.Load() {
		middleware.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting down"})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type robotsCheckResponse struct {
	URL               string   `json:"url"`
	UserAgent         string   `json:"user_agent"`
	Allowed           bool     `json:"allowed"`
	CrawlDelaySeconds int      `json:"crawl_delay_seconds"`
	Sitemaps          []string `json:"sitemaps"`
	RobotsStatus      string   `json:"robots_status"`
}

func (s *Server) checkRobots(w http.ResponseWriter, r *http.Request) {
	rawURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if rawURL == "" {
		middleware.WriteError(w, http.StatusBadRequest, "url is required")
		return
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || !crawler.IsCrawlable(parsed) {
		middleware.WriteError(w, http.StatusBadRequest, "url must be an absolute http(s) url")
		return
	}
	agent := r.URL.Query().Get("user_agent")
	if agent == "" {
		agent = s.robots.UserAgent()
	}

	rules, status := s.robots.Lookup(r.Context(), rawURL)
	allowed := rules.Allows(crawler.RobotsPath(parsed), agent)
	metrics.ObserveRobotsDecision(allowed)
	sitemaps := rules.Sitemaps()
	if sitemaps == nil {
		sitemaps = []string{}
	}
	s.logger.Debug("robots check",
		zap.String("url", rawURL),
		zap.String("user_agent", agent),
		zap.Bool("allowed", allowed),
		zap.String("robots_status", string(status)),
	)
	middleware.WriteJSON(w, http.StatusOK, robotsCheckResponse{
		URL:               rawURL,
		UserAgent:         agent,
		Allowed:           allowed,
		CrawlDelaySeconds: rules.CrawlDelay(agent),
		Sitemaps:          sitemaps,
		RobotsStatus:      string(status),
	})
}

type robotsEvaluateRequest struct {
	RobotsTxt string   `json:"robots_txt"`
	UserAgent string   `json:"user_agent"`
	Paths     []string `json:"paths"`
}

type pathVerdict struct {
	Path    string `json:"path"`
	Allowed bool   `json:"allowed"`
}

type robotsEvaluateResponse struct {
	MatchedAgent      *string       `json:"matched_agent"`
	CrawlDelaySeconds int           `json:"crawl_delay_seconds"`
	Sitemaps          []string      `json:"sitemaps"`
	Results           []pathVerdict `json:"results"`
}

func (s *Server) evaluateRobots(w http.ResponseWriter, r *http.Request) {
	var req robotsEvaluateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	rules := robots.ParseString(req.RobotsTxt)

	resp := robotsEvaluateResponse{
		CrawlDelaySeconds: rules.CrawlDelay(req.UserAgent),
		Sitemaps:          rules.Sitemaps(),
		Results:           make([]pathVerdict, 0, len(req.Paths)),
	}
	if resp.Sitemaps == nil {
		resp.Sitemaps = []string{}
	}
	if matched, ok := rules.MatchedDirective(req.UserAgent); ok {
		agent := matched.UserAgent()
		resp.MatchedAgent = &agent
	}
	for _, p := range req.Paths {
		resp.Results = append(resp.Results, pathVerdict{Path: p, Allowed: rules.Allows(p, req.UserAgent)})
	}
	middleware.WriteJSON(w, http.StatusOK, resp)
}

type resolveRequest struct {
	Base     string  `json:"base"`
	Location *string `json:"location"`
}

func (s *Server) resolveRedirect(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Base == "" {
		middleware.WriteError(w, http.StatusBadRequest, "base is required")
		return
	}
	location := ""
	if req.Location != nil {
		location = *req.Location
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"resolved": redirect.Resolve(req.Base, location)})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return err //nolint:wrapcheck // mapped to a 400 by the caller
	}
	return nil
}
