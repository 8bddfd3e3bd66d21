// Package server is the HTTP and websocket boundary: session and media
// REST endpoints, template CRUD, and the streaming chat/pipeline socket.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/openreel/reelkit/agent"
	"github.com/openreel/reelkit/artifact"
	"github.com/openreel/reelkit/config"
	"github.com/openreel/reelkit/metrics"
	"github.com/openreel/reelkit/pipeline"
	"github.com/openreel/reelkit/pipeline/interceptor"
	"github.com/openreel/reelkit/ratelimit"
	"github.com/openreel/reelkit/session"
	"github.com/openreel/reelkit/telemetry"
	"github.com/openreel/reelkit/tools"
)

// Options are the pluggable runtime pieces.
type Options struct {
	// ToolBackend runs the actual pipeline nodes. When nil, only the
	// history tool works and every other node reports a structured error.
	ToolBackend tools.Invoker
	// AgentFactory builds the chat agent for a resolved model pair. When
	// nil, an OpenAI-compatible streaming agent is used.
	AgentFactory session.AgentFactory
}

// Server wires the stores, limiters and runtime into an http.Handler.
type Server struct {
	cfg       *config.Config
	sessions  *session.Store
	templates *pipeline.TemplateStore
	admission *ratelimit.Admission
	caps      *ratelimit.Caps
	registry  *tools.Registry
	backend   tools.Invoker
	factory   session.AgentFactory
	promReg   *prometheus.Registry
	upgrader  websocket.Upgrader
}

// New builds the server and its stores from the configuration.
func New(cfg *config.Config, opts Options) (*Server, error) {
	templates, err := pipeline.NewTemplateStore(cfg.Paths.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("template store: %w", err)
	}

	s := &Server{
		cfg:       cfg,
		sessions:  session.NewStore(cfg),
		templates: templates,
		admission: ratelimit.NewAdmission(cfg.Rate, cfg.Server.TrustProxyHeaders),
		caps: ratelimit.NewCaps(
			cfg.Limits.MaxWSConnections,
			cfg.Limits.MaxChatConcurrency,
			cfg.Limits.MaxUploadConcurrency,
		),
		registry: tools.DefaultRegistry(),
		backend:  opts.ToolBackend,
		factory:  opts.AgentFactory,
		promReg:  metrics.NewRegistry(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	if s.factory == nil {
		s.factory = s.defaultAgentFactory
	}
	return s, nil
}

// Sessions exposes the session store (used by the command wiring).
func (s *Server) Sessions() *session.Store { return s.sessions }

// Router assembles the full route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(telemetry.Middleware)

	r.Handle("/metrics", metrics.Handler(s.promReg))

	r.Group(func(r chi.Router) {
		r.Use(s.admission.Middleware)

		r.Get("/api/health", s.handleHealth)
		r.Get("/api/config", s.handleConfig)
		r.Get("/api/meta/tts", s.handleTTSMeta)

		r.Route("/api/sessions", func(r chi.Router) {
			r.Post("/", s.handleCreateSession)
			r.Route("/{sid}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Post("/clear", s.handleClearSession)
				r.Post("/cancel", s.handleCancelTurn)

				r.Post("/media", s.handleUploadMedia)
				r.Post("/media/init", s.handleUploadInit)
				r.Post("/media/{uid}/chunk", s.handleUploadChunk)
				r.Post("/media/{uid}/complete", s.handleUploadComplete)
				r.Post("/media/{uid}/cancel", s.handleUploadCancel)
				r.Get("/media/pending", s.handlePendingMedia)
				r.Delete("/media/pending/{mid}", s.handleDeletePendingMedia)
				r.Get("/media/{mid}/thumb", s.handleMediaThumb)
				r.Get("/media/{mid}/file", s.handleMediaFile)
				r.Get("/preview", s.handlePreview)
			})
		})

		r.Route("/api/templates", func(r chi.Router) {
			r.Get("/", s.handleListTemplates)
			r.Post("/", s.handleSaveTemplate)
			r.Get("/{tid}", s.handleGetTemplate)
			r.Delete("/{tid}", s.handleDeleteTemplate)
		})

		r.Get("/ws/sessions/{sid}/chat", s.handleWS)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_chunk_bytes":            s.cfg.Limits.UploadChunkBytes,
		"max_upload_files_per_request":  s.cfg.Limits.MaxUploadFilesPerRequest,
		"max_media_per_session":         s.cfg.Limits.MaxMediaPerSession,
		"max_pending_media_per_session": s.cfg.Limits.MaxPendingPerSession,
	})
}

// sessionFromRequest resolves the {sid} route param, writing a 404 on miss.
func (s *Server) sessionFromRequest(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	sid := chi.URLParam(r, "sid")
	sess, ok := s.sessions.Get(sid)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sess, true
}

// toolChain assembles the per-session interceptor chain over the given
// artifact store.
func (s *Server) toolChain(sess *session.Session, store *artifact.Store) interceptor.Next {
	terminal := s.terminalBackend(store)

	injector := interceptor.NewDependencyInjector(s.registry, store, sess.Media.Dir())
	persister := interceptor.NewResultPersister(store, sess.Media.Dir())
	tts := interceptor.NewTTSInjector(sess.TTSConfig)
	search := interceptor.NewSearchKeyInjector(sess.SearchAPIKey)

	chain := interceptor.Chain(terminal, injector, persister, tts, search)
	injector.SetChain(chain)
	return chain
}

// terminalBackend routes the history tool locally and delegates the rest
// to the configured node backend.
func (s *Server) terminalBackend(store *artifact.Store) interceptor.Next {
	history := tools.ReadNodeHistory(store)
	return func(ctx context.Context, req *tools.Request) (*tools.Result, error) {
		if req.Tool == tools.HistoryTool {
			return history(ctx, req)
		}
		if s.backend == nil {
			return &tools.Result{
				ArtifactID: req.ArtifactID,
				Summary:    fmt.Sprintf("no backend configured for tool %q", req.Tool),
				IsError:    true,
			}, nil
		}
		return s.backend.Invoke(ctx, req)
	}
}

// defaultAgentFactory builds the OpenAI-compatible streaming agent with
// the session's tool chain behind it.
func (s *Server) defaultAgentFactory(sess *session.Session, llm, vlm *session.ModelOverride) (agent.Agent, error) {
	store, err := artifact.NewStore(s.cfg.Paths.OutputsDir, sess.ID)
	if err != nil {
		return nil, err
	}
	runner := &chainToolRunner{
		registry: s.registry,
		chain:    s.toolChain(sess, store),
		sess:     sess,
	}
	return agent.NewOpenAIAgent(llm.Model, llm.BaseURL, llm.APIKey, runner), nil
}

// chainToolRunner bridges model tool calls onto the interceptor chain.
type chainToolRunner struct {
	registry *tools.Registry
	chain    interceptor.Next
	sess     *session.Session
}

func (r *chainToolRunner) Definitions() []agent.ToolDef {
	defs := make([]agent.ToolDef, 0, len(r.registry.Order()))
	for _, name := range r.registry.Order() {
		d, err := r.registry.Get(name)
		if err != nil {
			continue
		}
		defs = append(defs, agent.ToolDef{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  d.InputSchema,
		})
	}
	return defs
}

func (r *chainToolRunner) Run(ctx context.Context, call agent.ToolCall) (any, bool) {
	req := &tools.Request{
		SessionID: r.sess.ID,
		Tool:      call.Name,
		Mode:      tools.ModeAuto,
		Lang:      r.sess.Lang(),
		Args:      call.Args,
	}
	res, err := r.chain(ctx, req)
	if err != nil {
		return map[string]any{"node_summary": err.Error(), "is_error": true}, true
	}

	summary := map[string]any{"node_summary": res.Summary}
	if res.IsError {
		summary["is_error"] = true
	}
	if call.Name == tools.HistoryTool {
		summary["tool_execute_result"] = res.ToolExecuteResult
	}
	return summary, res.IsError
}
