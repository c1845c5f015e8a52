// Package outbound places feedback calls that are bridged to the assistant once answered.
package outbound

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aymenesoualem/bookingagent/internal/policy"
	"github.com/aymenesoualem/bookingagent/internal/session"
	"github.com/aymenesoualem/bookingagent/internal/twilio"
	"github.com/aymenesoualem/bookingagent/internal/twiml"
)

var (
	ErrNumberNotAllowed = errors.New("number is not an account number or verified caller id")
	ErrNoPublicDomain   = errors.New("public domain is not configured")
)

// Telephony is the provider surface needed to place a call.
type Telephony interface {
	IsNumberAllowed(ctx context.Context, number string) (bool, error)
	CreateCall(ctx context.Context, to, twiml string) (*twilio.Call, error)
}

// Caller dials customers and connects them to the outbound media stream.
type Caller struct {
	telephony Telephony
	domain    string
	logger    zerolog.Logger
}

func NewCaller(telephony Telephony, publicDomain string, logger zerolog.Logger) *Caller {
	return &Caller{
		telephony: telephony,
		domain:    strings.TrimSpace(publicDomain),
		logger:    logger,
	}
}

// Call validates raw, checks the provider allows dialing it, and places the call.
func (c *Caller) Call(ctx context.Context, raw string) (session.OutboundCallResponse, error) {
	if c.domain == "" {
		return session.OutboundCallResponse{}, ErrNoPublicDomain
	}
	number, err := policy.NormalizePhoneNumber(raw)
	if err != nil {
		return session.OutboundCallResponse{}, err
	}

	allowed, err := c.telephony.IsNumberAllowed(ctx, number)
	if err != nil {
		return session.OutboundCallResponse{}, fmt.Errorf("check number: %w", err)
	}
	if !allowed {
		return session.OutboundCallResponse{}, fmt.Errorf("%w: %s", ErrNumberNotAllowed, policy.MaskPhone(number))
	}

	doc, err := twiml.OutboundCall(c.domain, number)
	if err != nil {
		return session.OutboundCallResponse{}, err
	}
	call, err := c.telephony.CreateCall(ctx, number, doc)
	if err != nil {
		return session.OutboundCallResponse{}, err
	}

	c.logger.Info().
		Str("call_sid", call.SID).
		Str("to", policy.MaskPhone(number)).
		Msg("outbound feedback call placed")
	return session.OutboundCallResponse{CallSID: call.SID, PhoneNumber: number, Status: call.Status}, nil
}
