package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appchat "github.com/bryanwahyu/datalyst/internal/application/chat"
	"github.com/bryanwahyu/datalyst/internal/domain/analysis"
	"github.com/bryanwahyu/datalyst/internal/domain/attempts"
	"github.com/bryanwahyu/datalyst/internal/domain/dataset"
	"github.com/bryanwahyu/datalyst/internal/domain/dictionary"
	"github.com/bryanwahyu/datalyst/internal/domain/session"
	"github.com/bryanwahyu/datalyst/internal/middleware"
)

// maxBodyBytes bounds uploads.
const maxBodyBytes = 32 << 20

// Options carries the optional collaborators of the router.
type Options struct {
	CORSOrigins []string
	RateLimiter *middleware.RateLimiter
	Attempts    attempts.Repository
	Health      map[string]middleware.HealthChecker
	Logger      *zap.Logger
}

type Router struct {
	chat     *appchat.Service
	attempts attempts.Repository
	log      *zap.Logger
}

func NewRouter(chatSvc *appchat.Service, opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	r := &Router{chat: chatSvc, attempts: opts.Attempts, log: opts.Logger}
	mux := chi.NewRouter()

	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(opts.Logger))
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	mux.Get("/health", middleware.HealthHandler(opts.Health))
	mux.Get("/ready", middleware.ReadinessHandler(opts.Health))
	mux.Get("/live", middleware.LivenessHandler)
	mux.Get("/metrics", middleware.MetricsHandler)

	mux.Route("/v1/sessions", func(rt chi.Router) {
		rt.Post("/", r.wrap(r.handleCreateSession))

		rt.Route("/{session}", func(rt chi.Router) {
			rt.Use(validSession)
			if opts.RateLimiter != nil {
				rt.Use(middleware.RateLimitMiddleware(opts.RateLimiter, func(req *http.Request) string {
					return chi.URLParam(req, "session") + ":" + middleware.ClientIP(req)
				}))
			}
			rt.Post("/datasets", r.wrap(r.handleRegisterDatasets))
			rt.Get("/datasets", r.wrap(r.handleDatasets))
			rt.Get("/dictionaries", r.wrap(r.handleDictionaries))
			rt.Put("/dictionaries/{name}", r.wrap(r.handleUpdateDictionary))
			rt.Post("/chat", r.wrap(r.handleChat))
			rt.Get("/messages", r.wrap(r.handleMessages))
			rt.Get("/transport", r.wrap(r.handleTransport))
			rt.Delete("/data", r.wrap(r.handleReset))
			rt.Get("/requests/{request}/attempts", r.wrap(r.handleAttempts))
		})
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		err := h(w, req)
		if err == nil {
			return
		}
		var ve *analysis.ValidationError
		switch {
		case errors.As(err, &ve):
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": ve.Error(), "field": ve.Field, "problems": ve.Problems})
		case errors.Is(err, session.ErrNotFound):
			writeError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, session.ErrBusy):
			writeError(w, http.StatusConflict, "session is busy with another request")
		case errors.Is(err, session.ErrStale), errors.Is(err, context.Canceled):
			writeError(w, http.StatusConflict, "request abandoned: the session was reset")
		case errors.Is(err, analysis.ErrQuotaExceeded):
			writeError(w, http.StatusTooManyRequests, "ai quota exceeded")
		default:
			r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
			writeError(w, http.StatusInternalServerError, err.Error())
		}
	}
}

func validSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if err := middleware.ValidateSessionID(chi.URLParam(req, "session")); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		next.ServeHTTP(w, req)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	_ = writeJSON(w, status, map[string]string{"error": msg})
}

func decode(w http.ResponseWriter, req *http.Request, v any) error {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(v); err != nil {
		return analysis.Invalid("body", err.Error())
	}
	return nil
}

// POST /v1/sessions
func (r *Router) handleCreateSession(w http.ResponseWriter, req *http.Request) error {
	id, err := r.chat.CreateSession(req.Context())
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// POST /v1/sessions/{session}/datasets
// Body: {"datasets": [{"name": "sales", "data_records": [...]}]}
func (r *Router) handleRegisterDatasets(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Datasets []*dataset.Dataset `json:"datasets"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	for _, d := range body.Datasets {
		if d == nil {
			return analysis.Invalid("datasets", "dataset cannot be null")
		}
		if err := middleware.ValidateDatasetName(d.Name()); err != nil {
			return analysis.Invalid("datasets", err.Error())
		}
	}
	res, err := r.chat.RegisterDatasets(req.Context(), chi.URLParam(req, "session"), body.Datasets)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, res)
}

// GET /v1/sessions/{session}/datasets
func (r *Router) handleDatasets(w http.ResponseWriter, req *http.Request) error {
	cleansed, raw, err := r.chat.Datasets(req.Context(), chi.URLParam(req, "session"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, map[string]any{"cleansed": cleansed, "raw": raw})
}

// GET /v1/sessions/{session}/dictionaries
func (r *Router) handleDictionaries(w http.ResponseWriter, req *http.Request) error {
	dicts, err := r.chat.Dictionaries(req.Context(), chi.URLParam(req, "session"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, dicts)
}

// PUT /v1/sessions/{session}/dictionaries/{name}
// Body: {"columns": [{"column": "...", "description": "...", "data_type": "..."}]}
func (r *Router) handleUpdateDictionary(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Columns []dictionary.TableRow `json:"columns"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	name := chi.URLParam(req, "name")
	if err := middleware.ValidateDatasetName(name); err != nil {
		return analysis.Invalid("name", err.Error())
	}
	dict, err := r.chat.UpdateDictionary(req.Context(), chi.URLParam(req, "session"), name, body.Columns)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, dict)
}

// POST /v1/sessions/{session}/chat
// Body: {"message": "..."}
func (r *Router) handleChat(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Message string `json:"message"`
	}
	if err := decode(w, req, &body); err != nil {
		return err
	}
	q, err := middleware.ValidateQuestion(body.Message)
	if err != nil {
		return analysis.Invalid("message", err.Error())
	}
	reply, err := r.chat.Ask(req.Context(), chi.URLParam(req, "session"), q)
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, reply)
}

// GET /v1/sessions/{session}/messages
func (r *Router) handleMessages(w http.ResponseWriter, req *http.Request) error {
	msgs, err := r.chat.Messages(req.Context(), chi.URLParam(req, "session"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, msgs)
}

// GET /v1/sessions/{session}/transport
func (r *Router) handleTransport(w http.ResponseWriter, req *http.Request) error {
	msgs, err := r.chat.Transport(req.Context(), chi.URLParam(req, "session"))
	if err != nil {
		return err
	}
	return writeJSON(w, http.StatusOK, msgs)
}

// DELETE /v1/sessions/{session}/data
func (r *Router) handleReset(w http.ResponseWriter, req *http.Request) error {
	if err := r.chat.Reset(req.Context(), chi.URLParam(req, "session")); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// GET /v1/sessions/{session}/requests/{request}/attempts?limit=20
func (r *Router) handleAttempts(w http.ResponseWriter, req *http.Request) error {
	if r.attempts == nil {
		writeError(w, http.StatusNotFound, "attempt log is disabled")
		return nil
	}
	limit, _ := strconv.Atoi(req.URL.Query().Get("limit"))
	list, err := r.attempts.ListByRequest(req.Context(), chi.URLParam(req, "session"), chi.URLParam(req, "request"), middleware.ValidateLimit(limit))
	if err != nil {
		return err
	}
	if list == nil {
		list = []*attempts.Record{}
	}
	return writeJSON(w, http.StatusOK, list)
}
