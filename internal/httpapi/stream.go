package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aymenesoualem/bookingagent/internal/bridge"
	"github.com/aymenesoualem/bookingagent/internal/policy"
	"github.com/aymenesoualem/bookingagent/internal/profile"
	"github.com/aymenesoualem/bookingagent/internal/protocol"
	"github.com/aymenesoualem/bookingagent/internal/realtime"
)

// callSetup is everything resolved before a media stream is upgraded.
type callSetup struct {
	profile  *profile.Profile
	number   string
	session  protocol.SessionUpdate
	dispatch bridge.Dispatcher
}

// handleMediaStream upgrades a telephony media stream and bridges it to a
// fresh model socket configured with the named profile.
func (s *Server) handleMediaStream(profileName string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setup, err := s.prepareCall(r.Context(), profileName, chi.URLParam(r, "customer_number"))
		if err != nil {
			s.logger.Error().Err(err).Str("profile", profileName).Msg("call setup failed")
			respondError(w, http.StatusInternalServerError, "call_setup_failed", err.Error())
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		call := s.deps.Calls.Create(profileName, setup.number)
		s.deps.Metrics.CallEvent("connected")
		s.deps.Metrics.SetActiveCalls(s.deps.Calls.ActiveCount())
		logger := s.logger.With().Str("call_id", call.ID).Str("profile", profileName).Logger()
		logger.Info().Str("customer", policy.MaskPhone(setup.number)).Msg("media stream connected")

		defer func() {
			if _, err := s.deps.Calls.End(call.ID); err != nil {
				logger.Debug().Err(err).Msg("end call")
			}
			s.deps.Metrics.CallEvent("ended")
			s.deps.Metrics.SetActiveCalls(s.deps.Calls.ActiveCount())
		}()

		ctx := r.Context()
		dialStart := time.Now()
		model, err := s.deps.Model.Dial(ctx)
		s.deps.Metrics.ObserveModelDial(time.Since(dialStart))
		if err != nil {
			s.deps.Metrics.CallEvent("model_dial_failed")
			logger.Error().Err(err).Msg("realtime model unavailable")
			return
		}

		b := bridge.New(conn, model, bridge.Options{
			CallID:              call.ID,
			Session:             setup.session,
			Greeting:            realtime.NewGreeting(setup.profile.Greeting),
			Dispatcher:          setup.dispatch,
			ToolTimeout:         s.cfg.ToolTimeout,
			DisableAutoResponse: !s.cfg.AutoResponse,
			Calls:               s.deps.Calls,
			Metrics:             s.deps.Metrics,
			Logger:              logger,
		})
		if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn().Err(err).Msg("bridge ended with error")
		}
	}
}

func (s *Server) prepareCall(ctx context.Context, profileName, rawNumber string) (callSetup, error) {
	number, err := policy.NormalizePhoneNumber(rawNumber)
	if err != nil {
		// The provider already accepted the call; keep the caller id as given.
		s.logger.Warn().Err(err).Msg("caller number not normalized")
		number = strings.TrimSpace(rawNumber)
	}

	prof, err := s.deps.Profiles.Get(profileName)
	if err != nil {
		return callSetup{}, err
	}
	registry, err := s.deps.Tools.Subset(prof.Tools...)
	if err != nil {
		return callSetup{}, fmt.Errorf("profile %s tools: %w", prof.Name, err)
	}

	hotels, err := s.deps.Store.ListHotels(ctx)
	if err != nil {
		return callSetup{}, fmt.Errorf("load hotel directory: %w", err)
	}
	directory := make([]profile.Hotel, 0, len(hotels))
	for _, h := range hotels {
		directory = append(directory, profile.Hotel{Name: h.Name, Area: h.Area})
	}
	instructions, err := prof.Render(profile.Vars{CustomerNumber: number, Hotels: directory})
	if err != nil {
		return callSetup{}, err
	}

	return callSetup{
		profile:  prof,
		number:   number,
		session:  s.deps.Model.SessionUpdate(instructions, registry.Schemas()),
		dispatch: registry,
	}, nil
}
