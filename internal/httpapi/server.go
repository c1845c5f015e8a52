package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aymenesoualem/bookingagent/internal/booking"
	"github.com/aymenesoualem/bookingagent/internal/config"
	"github.com/aymenesoualem/bookingagent/internal/observability"
	"github.com/aymenesoualem/bookingagent/internal/outbound"
	"github.com/aymenesoualem/bookingagent/internal/policy"
	"github.com/aymenesoualem/bookingagent/internal/profile"
	"github.com/aymenesoualem/bookingagent/internal/protocol"
	"github.com/aymenesoualem/bookingagent/internal/session"
	"github.com/aymenesoualem/bookingagent/internal/tools"
	"github.com/aymenesoualem/bookingagent/internal/twilio"
	"github.com/aymenesoualem/bookingagent/internal/twiml"
)

// ModelDialer opens realtime model sockets and describes their sessions.
type ModelDialer interface {
	Dial(ctx context.Context) (*websocket.Conn, error)
	SessionUpdate(instructions string, tools []protocol.ToolSchema) protocol.SessionUpdate
}

// OutboundCaller places feedback calls.
type OutboundCaller interface {
	Call(ctx context.Context, number string) (session.OutboundCallResponse, error)
}

// Deps are the collaborators the HTTP surface routes requests to.
type Deps struct {
	Calls    *session.Manager
	Store    booking.Store
	Profiles *profile.Set
	Tools    *tools.Registry
	Model    ModelDialer

	// Outbound is nil when Twilio credentials are not configured.
	Outbound OutboundCaller

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

type Server struct {
	cfg      config.Config
	deps     Deps
	logger   zerolog.Logger
	upgrader websocket.Upgrader
}

func New(cfg config.Config, deps Deps) *Server {
	if cfg.OutboundRateLimit <= 0 {
		cfg.OutboundRateLimit = 10
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: deps.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Media streams come from the telephony provider, never from browsers.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", s.handleIndex)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Get("/incoming-call", s.handleIncomingCall)
	r.Post("/incoming-call", s.handleIncomingCall)
	r.Get("/media-stream/{customer_number}", s.handleMediaStream(session.ProfileInbound))
	r.Get("/media-stream-outbound/{customer_number}", s.handleMediaStream(session.ProfileFeedback))

	r.Get("/v1/bookings", s.handleListBookings)
	r.Get("/v1/calls", s.handleListCalls)
	r.Get("/v1/perf/latency", s.handlePerfLatency)
	r.With(httprate.LimitByIP(s.cfg.OutboundRateLimit, time.Minute)).
		Post("/v1/calls/outbound", s.handleOutboundCall)

	return r
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Twilio Media Stream Server is running!",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"active_calls":     s.deps.Calls.ActiveCount(),
		"outbound_enabled": s.deps.Outbound != nil,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if _, err := s.deps.Store.ListHotels(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("readiness check failed")
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":           "ready",
		"outbound_enabled": s.deps.Outbound != nil,
	})
}

func (s *Server) handleIncomingCall(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	from := strings.TrimSpace(r.FormValue("From"))
	if from == "" {
		respondError(w, http.StatusBadRequest, "missing_from", "form field From is required")
		return
	}
	doc, err := twiml.IncomingCall(r.Host, from)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "twiml_failed", err.Error())
		return
	}
	s.deps.Metrics.CallEvent("incoming")
	s.logger.Info().Str("from", policy.MaskPhone(from)).Msg("incoming call answered")
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(doc))
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}
	bookings, err := s.deps.Store.ListBookings(r.Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list bookings failed")
		respondError(w, http.StatusInternalServerError, "list_failed", "could not list bookings")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *Server) handleListCalls(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"calls": s.deps.Calls.List()})
}

func (s *Server) handlePerfLatency(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Metrics.LatencySnapshot())
}

func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	if s.deps.Outbound == nil {
		respondError(w, http.StatusServiceUnavailable, "outbound_disabled", "twilio credentials are not configured")
		return
	}
	var req session.OutboundCallRequest
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	res, err := s.deps.Outbound.Call(r.Context(), req.PhoneNumber)
	if err != nil {
		status, code := outboundErrorStatus(err)
		s.logger.Warn().Err(err).Str("code", code).Msg("outbound call rejected")
		respondError(w, status, code, err.Error())
		return
	}
	s.deps.Metrics.CallEvent("outbound_placed")
	respondJSON(w, http.StatusCreated, res)
}

func outboundErrorStatus(err error) (int, string) {
	var apiErr *twilio.Error
	switch {
	case errors.Is(err, policy.ErrInvalidPhoneNumber):
		return http.StatusBadRequest, "invalid_phone_number"
	case errors.Is(err, outbound.ErrNumberNotAllowed):
		return http.StatusForbidden, "number_not_allowed"
	case errors.Is(err, outbound.ErrNoPublicDomain):
		return http.StatusServiceUnavailable, "public_domain_missing"
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "provider_error"
	default:
		return http.StatusInternalServerError, "outbound_failed"
	}
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
