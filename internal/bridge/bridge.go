package bridge

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aymenesoualem/bookingagent/internal/observability"
	"github.com/aymenesoualem/bookingagent/internal/protocol"
	"github.com/aymenesoualem/bookingagent/internal/realtime"
	"github.com/aymenesoualem/bookingagent/internal/reliability"
	"github.com/aymenesoualem/bookingagent/internal/session"
)

// MarkName labels every playback marker sent to the telephony leg.
const MarkName = "responsePart"

const defaultToolTimeout = 20 * time.Second

// Conn is the subset of *websocket.Conn used by the relay.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dispatcher executes model function calls. It never fails; a nil result
// means the call produced nothing useful.
type Dispatcher interface {
	Dispatch(ctx context.Context, name, arguments string) any
}

// Options configures one bridged call.
type Options struct {
	CallID     string
	Session    protocol.SessionUpdate
	Greeting   *realtime.Greeting
	Dispatcher Dispatcher

	// ToolTimeout bounds each dispatched function call.
	ToolTimeout time.Duration

	// DisableAutoResponse skips response.create after returning a tool result.
	DisableAutoResponse bool

	Calls   *session.Manager
	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

// Bridge relays audio between one telephony media stream and one model socket.
type Bridge struct {
	opts      Options
	telephony *peer
	model     *peer
	state     *StreamState
	logger    zerolog.Logger
	closeOnce sync.Once
	closed    atomic.Bool
}

func New(telephony, model Conn, opts Options) *Bridge {
	if opts.ToolTimeout <= 0 {
		opts.ToolTimeout = defaultToolTimeout
	}
	if opts.Session.Type == "" {
		opts.Session.Type = protocol.TypeSessionUpdate
	}
	logger := opts.Logger.With().Str("call_id", opts.CallID).Logger()
	return &Bridge{
		opts:      opts,
		telephony: &peer{name: "telephony", conn: telephony, metrics: opts.Metrics},
		model:     &peer{name: "model", conn: model, metrics: opts.Metrics},
		state:     NewStreamState(),
		logger:    logger,
	}
}

// State exposes the relay state for inspection.
func (b *Bridge) State() *StreamState { return b.state }

// Run configures the model session, then relays until either side hangs up
// or ctx is cancelled. Both sockets are closed on return. A normal
// disconnect returns nil.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.close()
	stop := context.AfterFunc(ctx, b.close)
	defer stop()

	if err := b.model.send(b.opts.Session); err != nil {
		return fmt.Errorf("send session update: %w", err)
	}
	if g := b.opts.Greeting; g != nil {
		if err := b.model.send(g.Item); err != nil {
			return fmt.Errorf("send greeting: %w", err)
		}
		if err := b.model.send(g.Response); err != nil {
			return fmt.Errorf("request greeting response: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer b.close()
		return b.relayInbound()
	})
	g.Go(func() error {
		defer b.close()
		return b.relayOutbound(gctx)
	})
	err := g.Wait()
	b.logger.Info().Err(err).Msg("bridge finished")
	return err
}

func (b *Bridge) close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		_ = b.model.conn.Close()
		_ = b.telephony.conn.Close()
	})
}

// relayInbound forwards caller audio to the model.
func (b *Bridge) relayInbound() error {
	for {
		_, raw, err := b.telephony.conn.ReadMessage()
		if err != nil {
			return b.readError(b.telephony, err)
		}
		frame, err := protocol.ParseTelephonyFrame(raw)
		if err != nil {
			b.logger.Warn().Err(err).Msg("dropping telephony frame")
			continue
		}
		b.opts.Metrics.ObserveMessage(b.telephony.name, "in", string(frame.Event))

		switch frame.Event {
		case protocol.TelephonyMedia:
			ts, err := frame.Media.TimestampMS()
			if err != nil {
				b.logger.Warn().Err(err).Msg("media frame with bad timestamp")
			} else {
				b.state.ObserveMedia(ts)
			}
			if err := b.model.send(protocol.NewInputAudioAppend(frame.Media.Payload)); err != nil {
				return b.writeError(b.model, err)
			}
		case protocol.TelephonyStart:
			b.state.Start(frame.Start.StreamSID)
			if b.opts.Calls != nil {
				if err := b.opts.Calls.AttachStream(b.opts.CallID, frame.Start.StreamSID, frame.Start.CallSID); err != nil {
					b.logger.Debug().Err(err).Msg("call not registered")
				}
			}
			b.logger.Info().
				Str("stream_sid", frame.Start.StreamSID).
				Str("call_sid", frame.Start.CallSID).
				Msg("media stream started")
		case protocol.TelephonyMark:
			b.state.PopMark()
		case protocol.TelephonyStop:
			b.logger.Info().Msg("media stream stopped")
			return nil
		default:
			b.logger.Debug().Str("event", string(frame.Event)).Msg("ignoring telephony event")
		}
	}
}

// relayOutbound forwards model audio to the caller and serves tool calls.
func (b *Bridge) relayOutbound(ctx context.Context) error {
	for {
		_, raw, err := b.model.conn.ReadMessage()
		if err != nil {
			return b.readError(b.model, err)
		}
		ev, err := protocol.ParseServerEvent(raw)
		if err != nil {
			b.logger.Warn().Err(err).Msg("dropping model event")
			continue
		}
		b.opts.Metrics.ObserveMessage(b.model.name, "in", string(ev.Type))

		switch ev.Type {
		case protocol.TypeAudioDelta, protocol.TypeOutputAudioDelta:
			if err := b.forwardAudio(ev); err != nil {
				return err
			}
		case protocol.TypeSpeechStarted:
			if err := b.interrupt(); err != nil {
				return err
			}
		case protocol.TypeResponseDone:
			if err := b.serveFunctionCalls(ctx, ev); err != nil {
				return err
			}
		case protocol.TypeError:
			evt := b.logger.Error()
			if ev.Error != nil {
				evt = evt.Str("code", ev.Error.Code).Str("error_type", ev.Error.Type).Str("message", ev.Error.Message)
			}
			evt.Msg("model reported error")
		case protocol.TypeSessionCreated, protocol.TypeSessionUpdated,
			protocol.TypeFunctionArgsDone, protocol.TypeRateLimitsUpdated,
			protocol.TypeSpeechStopped, protocol.TypeInputAudioCommitted:
			b.logger.Info().Str("event", string(ev.Type)).Msg("model event")
		default:
			b.logger.Debug().Str("event", string(ev.Type)).Msg("ignoring model event")
		}
	}
}

func (b *Bridge) forwardAudio(ev protocol.ServerEvent) error {
	audio, err := base64.StdEncoding.DecodeString(ev.Delta)
	if err != nil {
		b.logger.Warn().Err(err).Msg("audio delta is not base64")
		return nil
	}
	streamSID := b.state.BeginAudio(ev.ItemID)
	payload := base64.StdEncoding.EncodeToString(audio)
	if err := b.telephony.send(protocol.NewMediaFrame(streamSID, payload)); err != nil {
		return b.writeError(b.telephony, err)
	}
	if streamSID == "" {
		return nil
	}
	// Queue the mark before sending so an early echo always finds it.
	b.state.PushMark(MarkName)
	if err := b.telephony.send(protocol.NewMarkFrame(streamSID, MarkName)); err != nil {
		return b.writeError(b.telephony, err)
	}
	return nil
}

// interrupt truncates the assistant reply at the point the caller heard
// and flushes audio still buffered on the telephony side.
func (b *Bridge) interrupt() error {
	t, ok := b.state.Interrupt()
	if !ok {
		return nil
	}
	b.logger.Info().Str("item_id", t.ItemID).Int64("audio_end_ms", t.AudioEndMS).Msg("caller interrupted response")
	b.opts.Metrics.ObserveInterruption(t.AudioEndMS)
	if b.opts.Calls != nil {
		_ = b.opts.Calls.RecordInterruption(b.opts.CallID)
	}

	if t.ItemID != "" {
		if err := b.model.send(protocol.NewTruncate(t.ItemID, t.AudioEndMS)); err != nil {
			return b.writeError(b.model, err)
		}
	}
	if err := b.telephony.send(protocol.NewClearFrame(t.StreamSID)); err != nil {
		return b.writeError(b.telephony, err)
	}
	return nil
}

func (b *Bridge) serveFunctionCalls(ctx context.Context, ev protocol.ServerEvent) error {
	if ev.Response != nil && ev.Response.Status != "" {
		b.logger.Debug().Str("status", ev.Response.Status).Msg("response done")
	}
	for _, call := range ev.FunctionCalls() {
		output := b.dispatch(ctx, call)
		if err := b.model.send(protocol.NewFunctionCallOutput(call.CallID, output)); err != nil {
			return b.writeError(b.model, err)
		}
		if b.opts.DisableAutoResponse {
			continue
		}
		if err := b.model.send(protocol.NewResponseCreate()); err != nil {
			return b.writeError(b.model, err)
		}
	}
	return nil
}

// dispatch runs one tool call and encodes its result as JSON.
func (b *Bridge) dispatch(ctx context.Context, call protocol.FunctionCall) string {
	if b.opts.Calls != nil {
		_ = b.opts.Calls.RecordToolCall(b.opts.CallID)
	}
	var result any
	if b.opts.Dispatcher != nil {
		toolCtx, cancel := context.WithTimeout(ctx, b.opts.ToolTimeout)
		result = b.opts.Dispatcher.Dispatch(toolCtx, call.Name, call.Arguments)
		cancel()
	} else {
		b.logger.Warn().Str("tool", call.Name).Msg("function call without dispatcher")
	}

	out, err := json.Marshal(result)
	if err != nil {
		b.logger.Error().Err(err).Str("tool", call.Name).Msg("tool result is not serialisable")
		return "null"
	}
	b.logger.Info().Str("tool", call.Name).Str("call_id", call.CallID).Msg("function call served")
	return string(out)
}

func (b *Bridge) readError(p *peer, err error) error {
	if b.closed.Load() || reliability.IsNormalClose(err) {
		b.logger.Info().Str("peer", p.name).Msg("peer disconnected")
		return nil
	}
	return fmt.Errorf("read %s: %w", p.name, err)
}

func (b *Bridge) writeError(p *peer, err error) error {
	if b.closed.Load() || reliability.IsNormalClose(err) || errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return fmt.Errorf("write %s: %w", p.name, err)
}

// peer serialises writes to one socket; gorilla allows a single writer.
type peer struct {
	name    string
	conn    Conn
	metrics *observability.Metrics
	mu      sync.Mutex
}

func (p *peer) send(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s message: %w", p.name, err)
	}
	p.mu.Lock()
	err = p.conn.WriteMessage(websocket.TextMessage, raw)
	p.mu.Unlock()
	if err != nil {
		return err
	}
	p.metrics.ObserveMessage(p.name, "out", messageType(v))
	return nil
}

func messageType(v any) string {
	switch m := v.(type) {
	case protocol.TelephonyFrame:
		return string(m.Event)
	case protocol.SessionUpdate:
		return string(m.Type)
	case protocol.ConversationItemCreate:
		return string(m.Type)
	case protocol.ConversationTruncate:
		return string(m.Type)
	case protocol.ResponseCreate:
		return string(m.Type)
	case protocol.InputAudioAppend:
		return string(m.Type)
	default:
		return "unknown"
	}
}
