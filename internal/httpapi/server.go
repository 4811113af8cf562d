package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/arielgw/castkit/internal/chatkit"
	"github.com/arielgw/castkit/internal/config"
	"github.com/arielgw/castkit/internal/episode"
	"github.com/arielgw/castkit/internal/facts"
	"github.com/arielgw/castkit/internal/identity"
	"github.com/arielgw/castkit/internal/observability"
	"github.com/arielgw/castkit/internal/reliability"
)

// SessionCreator is the upstream half of the broker.
type SessionCreator interface {
	CreateSession(ctx context.Context, params chatkit.SessionParams) (chatkit.SessionResult, error)
}

type Server struct {
	cfg      config.Config
	identity *identity.Resolver
	upstream SessionCreator
	facts    facts.Store
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
	static   http.Handler
}

func New(cfg config.Config, resolver *identity.Resolver, upstream SessionCreator, factStore facts.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		identity: resolver,
		upstream: upstream,
		facts:    factStore,
		metrics:  metrics,
		static:   newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// The panel is meant to be iframed from podcast pages, but the
				// tool channel itself only ever connects same-origin. Reject
				// foreign browser origins unless explicitly opened up.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/panel/", http.StatusTemporaryRedirect)
	})
	r.Get("/panel", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/panel/", http.StatusTemporaryRedirect)
	})
	r.Handle("/panel/*", http.StripPrefix("/panel/", s.static))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/api/create-session", s.handleCreateSession)
	r.Get("/api/episode-context", s.handleEpisodeContext)
	r.Get("/api/facts", s.handleListFacts)
	r.Get("/api/panel/ws", s.handlePanelWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"environment": s.cfg.Environment,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":       "ready",
		"workflow_set": s.cfg.DefaultWorkflowID != "",
		"api_key_set":  s.cfg.OpenAIAPIKey != "",
	})
}

// createSessionRequest mirrors the documented body: all fields optional, with
// both the nested and the flat workflow spelling accepted.
type createSessionRequest struct {
	Workflow struct {
		ID string `json:"id"`
	} `json:"workflow"`
	WorkflowID  string `json:"workflowId"`
	EpisodeCode string `json:"episodeCode"`
	Title       string `json:"title"`
	MP3         string `json:"mp3"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	// A malformed body behaves exactly like an empty one.
	var req createSessionRequest
	if r.Body != nil {
		_ = json.Unmarshal(readBody(r), &req)
	}

	workflowID := strings.TrimSpace(req.Workflow.ID)
	if workflowID == "" {
		workflowID = strings.TrimSpace(req.WorkflowID)
	}
	if workflowID == "" {
		workflowID = s.cfg.DefaultWorkflowID
	}
	if workflowID == "" {
		s.metrics.SessionFailures.WithLabelValues(string(reliability.KindConfig), reliability.StatusClass(http.StatusBadRequest)).Inc()
		respondError(w, http.StatusBadRequest, "Missing workflow id")
		return
	}
	if s.cfg.OpenAIAPIKey == "" {
		s.metrics.SessionFailures.WithLabelValues(string(reliability.KindConfig), reliability.StatusClass(http.StatusInternalServerError)).Inc()
		respondError(w, http.StatusInternalServerError, "Missing OPENAI_API_KEY environment variable")
		return
	}

	callerID, issued := s.identity.Resolve(r)
	attachCookie := func() {
		if issued {
			s.identity.SetCookie(w, callerID)
			s.metrics.CookiesIssued.Inc()
		}
	}

	// Unexpected failures must not leak internals, but the resolved identity
	// cookie still ships with the generic 500.
	defer func() {
		if rec := recover(); rec != nil {
			log.Printf("create-session panic: %v", rec)
			s.metrics.SessionFailures.WithLabelValues(string(reliability.KindUnexpected), reliability.StatusClass(http.StatusInternalServerError)).Inc()
			attachCookie()
			respondError(w, http.StatusInternalServerError, "Unexpected error")
		}
	}()

	episodeCtx := episode.Context{
		Code:   strings.TrimSpace(req.EpisodeCode),
		Title:  strings.TrimSpace(req.Title),
		MP3URL: strings.TrimSpace(req.MP3),
	}

	start := time.Now()
	result, err := s.upstream.CreateSession(r.Context(), chatkit.SessionParams{
		WorkflowID: workflowID,
		UserID:     callerID,
		Metadata:   episodeCtx.Metadata(),
	})
	s.metrics.ObserveUpstreamLatency(time.Since(start))

	if err != nil {
		attachCookie()
		var apiErr *chatkit.APIError
		if errors.As(err, &apiErr) {
			s.metrics.SessionFailures.WithLabelValues(string(reliability.ClassifyUpstream(apiErr.Status)), reliability.StatusClass(apiErr.Status)).Inc()
			respondError(w, apiErr.Status, apiErr.Message)
			return
		}
		log.Printf("create-session upstream error: %v", err)
		s.metrics.SessionFailures.WithLabelValues(string(reliability.KindUnexpected), reliability.StatusClass(http.StatusInternalServerError)).Inc()
		respondError(w, http.StatusInternalServerError, "Unexpected error")
		return
	}

	attachCookie()
	s.metrics.SessionsCreated.WithLabelValues(string(s.cfg.MetadataPlacement)).Inc()
	respondJSON(w, http.StatusOK, map[string]any{
		"client_secret": nullableString(result.ClientSecret),
		"expires_after": rawOrNull(result.ExpiresAfter),
	})
}

func (s *Server) handleEpisodeContext(w http.ResponseWriter, r *http.Request) {
	ctx, ok := episode.Resolve(r.Referer(), r.URL.String())
	if !ok {
		respondJSON(w, http.StatusOK, map[string]any{"resolved": false})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"resolved": true,
		"context":  ctx,
	})
}

func (s *Server) handleListFacts(w http.ResponseWriter, r *http.Request) {
	callerID, issued := s.identity.Resolve(r)
	if issued {
		// No identity yet means nothing recorded; don't mint a cookie on a read.
		respondJSON(w, http.StatusOK, map[string]any{"facts": []facts.Fact{}})
		return
	}
	list, err := s.facts.List(r.Context(), callerID)
	if err != nil {
		log.Printf("list facts error: %v", err)
		respondError(w, http.StatusInternalServerError, "Unexpected error")
		return
	}
	if list == nil {
		list = []facts.Fact{}
	}
	respondJSON(w, http.StatusOK, map[string]any{"facts": list})
}

type errorResponse struct {
	Error string `json:"error"`
}

func readBody(r *http.Request) []byte {
	defer r.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	return raw
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorResponse{Error: message})
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func rawOrNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("null")
	}
	return raw
}
