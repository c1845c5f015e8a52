package realtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aymenesoualem/bookingagent/internal/protocol"
)

const (
	DefaultURL         = "wss://api.openai.com/v1/realtime?model=gpt-4o-realtime-preview-2024-10-01"
	DefaultVoice       = "alloy"
	DefaultTemperature = 0.8
	AudioFormat        = "g711_ulaw"
)

var ErrMissingAPIKey = errors.New("realtime api key is required")

// Config describes how to reach the realtime speech model.
type Config struct {
	APIKey           string
	URL              string
	Voice            string
	Temperature      float64
	HandshakeTimeout time.Duration
}

// Client opens model sockets and builds the session events sent on them.
type Client struct {
	cfg    Config
	dialer websocket.Dialer
}

func NewClient(cfg Config) *Client {
	if strings.TrimSpace(cfg.URL) == "" {
		cfg.URL = DefaultURL
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = DefaultTemperature
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.HandshakeTimeout,
		},
	}
}

// Dial opens one model socket for a call.
func (c *Client) Dial(ctx context.Context) (*websocket.Conn, error) {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	conn, resp, err := c.dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("realtime dial failed: %w", err)
	}
	return conn, nil
}

// SessionUpdate configures server-side VAD, μ-law audio both ways, the voice
// and the tools available to this call.
func (c *Client) SessionUpdate(instructions string, tools []protocol.ToolSchema) protocol.SessionUpdate {
	if tools == nil {
		tools = []protocol.ToolSchema{}
	}
	return protocol.SessionUpdate{
		Type: protocol.TypeSessionUpdate,
		Session: protocol.SessionConfig{
			TurnDetection:     protocol.TurnDetection{Type: "server_vad"},
			InputAudioFormat:  AudioFormat,
			OutputAudioFormat: AudioFormat,
			Voice:             c.cfg.Voice,
			Instructions:      instructions,
			Modalities:        []string{"text", "audio"},
			Temperature:       c.cfg.Temperature,
			Tools:             tools,
		},
	}
}

// Greeting is the pair of events that makes the assistant speak first.
type Greeting struct {
	Item     protocol.ConversationItemCreate
	Response protocol.ResponseCreate
}

// NewGreeting builds the opening turn from a text instruction.
func NewGreeting(text string) *Greeting {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return &Greeting{
		Item:     protocol.NewUserText(text),
		Response: protocol.NewResponseCreate(),
	}
}
