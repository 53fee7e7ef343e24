package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hupe1980/parley/admission"
	"github.com/hupe1980/parley/core"
	"github.com/hupe1980/parley/dialogue"
	"github.com/hupe1980/parley/journal"
	"github.com/hupe1980/parley/logging"
	"github.com/hupe1980/parley/settings"
)

const (
	maxBodyBytes       = 1 << 20
	defaultLogLimit    = 100
	shutdownGrace      = 5 * time.Second
	readHeaderTimeout  = 10 * time.Second
	msgNotConfigured   = "Model provider is not configured. Set PARLEY_PROVIDER_API_KEY or CEREBRAS_API_KEY."
	msgDailyLimit      = "Daily token limit reached."
	msgBadInteraction  = "Request body must include agents 'a' and 'b'."
	msgBadTurn         = "Body must include 'speaker' and 'listener' agent objects."
	msgBadLabTurn      = "Body must include 'speaker' and 'listener' objects with names."
	msgBadSettingsBody = "Body must be a JSON object."
)

// Generator is the dialogue surface the server drives.
type Generator interface {
	Settings() settings.Settings
	ApplySettings(p settings.Patch) settings.Settings
	Turn(ctx context.Context, req dialogue.TurnRequest) (dialogue.TurnReply, error)
	Interaction(ctx context.Context, req dialogue.InteractionRequest) (dialogue.InteractionReply, error)
	LabTurn(ctx context.Context, req dialogue.LabTurnRequest) (dialogue.TurnReply, error)
}

var _ Generator = (*dialogue.Generator)(nil)

// Admission reports the admission controller state.
type Admission interface {
	Snapshot() admission.Snapshot
}

var _ Admission = (*admission.Controller)(nil)

// Options configure a Server.
type Options struct {
	// ProviderName is reported by /api/config.
	ProviderName string
	// ProviderConfigured gates the generation routes; false answers 503.
	ProviderConfigured bool
	Journal            *journal.Journal
	Logger             logging.Logger
}

// Server is the HTTP facade.
type Server struct {
	gen       Generator
	admission Admission
	opts      Options
	logger    logging.Logger
	mux       *http.ServeMux
}

// New wires the routes.
func New(gen Generator, adm Admission, optFns ...func(o *Options)) *Server {
	opts := Options{ProviderConfigured: true}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		gen:       gen,
		admission: adm,
		opts:      opts,
		logger:    logging.OrNoOp(opts.Logger),
		mux:       http.NewServeMux(),
	}

	s.mux.HandleFunc("GET /api/config", s.handleConfig)
	s.mux.HandleFunc("GET /api/runtime-settings", s.handleGetSettings)
	s.mux.HandleFunc("PUT /api/runtime-settings", s.handlePutSettings)
	s.mux.HandleFunc("GET /api/limits", s.handleLimits)
	s.mux.HandleFunc("GET /api/debug/logs", s.handleLogs)
	s.mux.HandleFunc("DELETE /api/debug/logs", s.handleClearLogs)
	s.mux.HandleFunc("POST "+dialogue.RouteInteraction, s.handleInteraction)
	s.mux.HandleFunc("POST "+dialogue.RouteTurn, s.handleTurn)
	s.mux.HandleFunc("POST "+dialogue.RouteLabTurn, s.handleLabTurn)

	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		s.logger.Info("http server shutting down", "addr", addr)
		return srv.Shutdown(shutdownCtx)
	}
}

type configLimits struct {
	RequestsPerSecond int `json:"requests_per_second"`
	TokensPerMinute   int `json:"tokens_per_minute"`
	TokensPerDay      int `json:"tokens_per_day"`
	MaxConcurrent     int `json:"max_concurrent"`
}

type configResponse struct {
	ProviderEnabled                bool                 `json:"providerEnabled"`
	Provider                       string               `json:"provider,omitempty"`
	SupportsClientAPIKey           bool                 `json:"supportsClientApiKey"`
	Model                          string               `json:"model"`
	Temperature                    float64              `json:"temperature"`
	TopP                           float64              `json:"top_p"`
	DisableReasoning               bool                 `json:"disable_reasoning"`
	ClearThinking                  bool                 `json:"clear_thinking"`
	TurnMaxCompletionTokens        int                  `json:"turn_max_completion_tokens"`
	InteractionMaxCompletionTokens int                  `json:"interaction_max_completion_tokens"`
	Constraints                    settings.Constraints `json:"constraints"`
	Limits                         configLimits         `json:"limits"`
}

func (s *Server) handleConfig(w http.ResponseWriter, _ *http.Request) {
	cur := s.gen.Settings()
	l := s.admission.Snapshot().Limits
	writeJSON(w, http.StatusOK, configResponse{
		ProviderEnabled:                s.opts.ProviderConfigured,
		Provider:                       s.opts.ProviderName,
		Model:                          cur.Model,
		Temperature:                    cur.Temperature,
		TopP:                           cur.TopP,
		DisableReasoning:               cur.DisableReasoning,
		ClearThinking:                  cur.ClearThinking,
		TurnMaxCompletionTokens:        cur.TurnMaxCompletionTokens,
		InteractionMaxCompletionTokens: cur.InteractionMaxCompletionTokens,
		Constraints:                    cur.Constraints,
		Limits: configLimits{
			RequestsPerSecond: l.RPS,
			TokensPerMinute:   l.TPM,
			TokensPerDay:      l.TPD,
			MaxConcurrent:     l.MaxConcurrent,
		},
	})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.gen.Settings())
}

func (s *Server) handlePutSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, msgBadSettingsBody)
		return
	}
	patch, err := settings.ParsePatch(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, msgBadSettingsBody)
		return
	}
	next := s.gen.ApplySettings(patch)
	s.logger.Info("runtime settings updated", "model", next.Model)
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleLimits(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.admission.Snapshot())
}

type logsResponse struct {
	Enabled bool            `json:"enabled"`
	Total   int             `json:"total"`
	Entries []journal.Entry `json:"entries"`
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	limit := defaultLogLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}

	resp := logsResponse{Entries: []journal.Entry{}}
	if j := s.opts.Journal; j != nil {
		resp.Enabled = j.Enabled()
		resp.Total = j.Len()
		resp.Entries = j.List(limit)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleClearLogs(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Journal != nil {
		s.opts.Journal.Clear()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type interactionResponse struct {
	dialogue.InteractionReply
	Queue admission.Queue `json:"queue"`
}

type turnResponse struct {
	dialogue.TurnReply
	Queue admission.Queue `json:"queue"`
}

func (s *Server) handleInteraction(w http.ResponseWriter, r *http.Request) {
	var req dialogue.InteractionRequest
	if !s.begin(w, r, &req, msgBadInteraction) {
		return
	}
	reply, err := s.gen.Interaction(r.Context(), req)
	if s.failed(w, err, msgBadInteraction) {
		return
	}
	writeJSON(w, http.StatusOK, interactionResponse{InteractionReply: reply, Queue: s.queue()})
}

func (s *Server) handleTurn(w http.ResponseWriter, r *http.Request) {
	var req dialogue.TurnRequest
	if !s.begin(w, r, &req, msgBadTurn) {
		return
	}
	reply, err := s.gen.Turn(r.Context(), req)
	if s.failed(w, err, msgBadTurn) {
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{TurnReply: reply, Queue: s.queue()})
}

func (s *Server) handleLabTurn(w http.ResponseWriter, r *http.Request) {
	var req dialogue.LabTurnRequest
	if !s.begin(w, r, &req, msgBadLabTurn) {
		return
	}
	reply, err := s.gen.LabTurn(r.Context(), req)
	if s.failed(w, err, msgBadLabTurn) {
		return
	}
	writeJSON(w, http.StatusOK, turnResponse{TurnReply: reply, Queue: s.queue()})
}

// begin checks the provider and decodes the body into dst.
func (s *Server) begin(w http.ResponseWriter, r *http.Request, dst any, badRequest string) bool {
	if !s.opts.ProviderConfigured {
		writeError(w, http.StatusServiceUnavailable, msgNotConfigured)
		return false
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, badRequest)
		return false
	}
	return true
}

// failed writes the error response for err, if any.
func (s *Server) failed(w http.ResponseWriter, err error, badRequest string) bool {
	if err == nil {
		return false
	}

	var quota *core.QuotaError
	switch {
	case errors.As(err, &quota):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": msgDailyLimit,
			"code":  quota.Code,
			"queue": s.queue(),
		})
	case errors.Is(err, core.ErrQuotaExceeded):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error": msgDailyLimit,
			"code":  core.QuotaCodeDailyTokens,
			"queue": s.queue(),
		})
	case errors.Is(err, dialogue.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, badRequest)
	default:
		s.logger.Error("dialogue request failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
	}
	return true
}

func (s *Server) queue() admission.Queue {
	return s.admission.Snapshot().Queue
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
