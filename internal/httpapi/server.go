package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/muntrav/bitbrowser-automation/internal/accounts"
	"github.com/muntrav/bitbrowser-automation/internal/config"
	"github.com/muntrav/bitbrowser-automation/internal/engine"
	"github.com/muntrav/bitbrowser-automation/internal/events"
	"github.com/muntrav/bitbrowser-automation/internal/observability"
	"github.com/muntrav/bitbrowser-automation/internal/settings"
	"github.com/muntrav/bitbrowser-automation/internal/tasks"
)

type Server struct {
	cfg      config.Config
	engine   *engine.Engine
	registry *tasks.Registry
	store    accounts.Store
	settings settings.Store
	hub      *events.Hub
	metrics  *observability.Metrics
	upgrader websocket.Upgrader
}

func New(cfg config.Config, eng *engine.Engine, registry *tasks.Registry, store accounts.Store, cfgStore settings.Store, hub *events.Hub, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:      cfg,
		engine:   eng,
		registry: registry,
		store:    store,
		settings: cfgStore,
		hub:      hub,
		metrics:  metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin unless explicitly opened up. Non-browser clients
				// usually omit Origin and are allowed.
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

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Post("/v1/tasks", s.handleSubmitTask)
	r.Get("/v1/tasks", s.handleListTasks)
	r.Get("/v1/tasks/{id}", s.handleGetTask)
	r.Delete("/v1/tasks/{id}", s.handleCancelTask)
	r.Get("/v1/tasks/{id}/accounts", s.handleTaskAccounts)

	r.Get("/v1/events/ws", s.handleEventsWS)

	r.Get("/v1/accounts", s.handleListAccounts)
	r.Post("/v1/accounts", s.handleUpsertAccount)

	r.Get("/v1/config", s.handleGetConfig)
	r.Put("/v1/config", s.handlePutConfig)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":      "ready",
		"subscribers": s.hub.SubscriberCount(),
	})
}

type submitTaskRequest struct {
	Workflows   []string `json:"workflows"`
	Emails      []string `json:"emails"`
	CloseAfter  bool     `json:"close_after"`
	Concurrency int      `json:"concurrency"`
}

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var req submitTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	types := make([]tasks.WorkflowType, 0, len(req.Workflows))
	for _, raw := range req.Workflows {
		types = append(types, tasks.WorkflowType(strings.TrimSpace(raw)))
	}

	taskID, err := s.engine.Submit(engine.TaskRequest{
		Workflows:   types,
		Emails:      req.Emails,
		CloseAfter:  req.CloseAfter,
		Concurrency: req.Concurrency,
	})
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_task", err.Error())
		return
	}
	respondJSON(w, http.StatusCreated, map[string]string{"task_id": taskID})
}

func (s *Server) handleListTasks(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"tasks": s.registry.List()})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	tp, err := s.registry.Get(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tp)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	tp, err := s.registry.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, tp)
}

func (s *Server) handleTaskAccounts(w http.ResponseWriter, r *http.Request) {
	progress, err := s.registry.Accounts(chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "task_not_found", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"accounts": progress})
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	sub, cancel := s.hub.Subscribe()
	defer cancel()

	// Reader only watches for the peer going away.
	readerGone := make(chan struct{})
	go func() {
		defer close(readerGone)
		conn.SetReadLimit(1 << 20)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-readerGone:
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if s.metrics != nil {
				s.metrics.WSMessages.WithLabelValues("outbound", ev.Type).Inc()
			}
		}
	}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	list, err := s.store.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"accounts": list})
}

type upsertAccountRequest struct {
	Email         string  `json:"email"`
	Password      *string `json:"password"`
	RecoveryEmail *string `json:"recovery_email"`
	SecretKey     *string `json:"secret_key"`
	Status        *string `json:"status"`
}

func (s *Server) handleUpsertAccount(w http.ResponseWriter, r *http.Request) {
	var req upsertAccountRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}

	up := accounts.Upsert{
		Email:         req.Email,
		Password:      req.Password,
		RecoveryEmail: req.RecoveryEmail,
		SecretKey:     req.SecretKey,
	}
	if req.Status != nil {
		status := accounts.Status(*req.Status)
		up.Status = &status
	}
	if err := s.store.Upsert(r.Context(), up); err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}

	acct, err := s.store.Get(r.Context(), req.Email)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, acct)
}

// configKeys are the runtime settings exposed over the API.
var configKeys = []string{
	settings.KeySheerIDAPIKey,
	settings.KeyCardNumber,
	settings.KeyCardExpMonth,
	settings.KeyCardExpYear,
	settings.KeyCardCVV,
	settings.KeyCardZip,
	settings.KeyWindowQuota,
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string, len(configKeys))
	for _, key := range configKeys {
		v, err := s.settings.Get(r.Context(), key)
		if err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
		out[key] = v
	}
	respondJSON(w, http.StatusOK, out)
}

func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	for key, value := range req {
		if !isConfigKey(key) {
			respondError(w, http.StatusBadRequest, "unknown_key", "unknown config key: "+key)
			return
		}
		if err := s.settings.Set(r.Context(), key, value); err != nil {
			respondError(w, http.StatusInternalServerError, "store_error", err.Error())
			return
		}
	}
	s.handleGetConfig(w, r)
}

func isConfigKey(key string) bool {
	for _, k := range configKeys {
		if k == key {
			return true
		}
	}
	return false
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
