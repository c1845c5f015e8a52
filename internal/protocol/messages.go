package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// TelephonyEvent identifies media stream frame variants exchanged with the
// telephony leg.
type TelephonyEvent string

const (
	TelephonyConnected TelephonyEvent = "connected"
	TelephonyStart     TelephonyEvent = "start"
	TelephonyMedia     TelephonyEvent = "media"
	TelephonyMark      TelephonyEvent = "mark"
	TelephonyStop      TelephonyEvent = "stop"
	TelephonyDTMF      TelephonyEvent = "dtmf"
	TelephonyClear     TelephonyEvent = "clear"
)

var ErrUnsupportedType = errors.New("unsupported message type")

// TelephonyFrame is the envelope of every media stream message in both directions.
type TelephonyFrame struct {
	Event          TelephonyEvent `json:"event"`
	SequenceNumber string         `json:"sequenceNumber,omitempty"`
	StreamSID      string         `json:"streamSid,omitempty"`
	Start          *StreamStart   `json:"start,omitempty"`
	Media          *MediaPayload  `json:"media,omitempty"`
	Mark           *MarkPayload   `json:"mark,omitempty"`
	Stop           *StreamStop    `json:"stop,omitempty"`
	DTMF           *DTMFPayload   `json:"dtmf,omitempty"`
}

type StreamStart struct {
	StreamSID        string            `json:"streamSid"`
	AccountSID       string            `json:"accountSid"`
	CallSID          string            `json:"callSid"`
	Tracks           []string          `json:"tracks,omitempty"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaPayload carries one base64 audio chunk. Timestamp is milliseconds since
// stream start, encoded as a decimal string on the wire.
type MediaPayload struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   string `json:"payload"`
}

type MarkPayload struct {
	Name string `json:"name"`
}

type StreamStop struct {
	AccountSID string `json:"accountSid"`
	CallSID    string `json:"callSid"`
}

type DTMFPayload struct {
	Track string `json:"track,omitempty"`
	Digit string `json:"digit"`
}

// TimestampMS parses the media timestamp. An absent timestamp reads as zero.
func (m MediaPayload) TimestampMS() (int64, error) {
	ts := strings.TrimSpace(m.Timestamp)
	if ts == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid media timestamp %q: %w", m.Timestamp, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid media timestamp %q: negative", m.Timestamp)
	}
	return n, nil
}

// ParseTelephonyFrame decodes and validates one inbound media stream frame.
func ParseTelephonyFrame(raw []byte) (TelephonyFrame, error) {
	var frame TelephonyFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return TelephonyFrame{}, fmt.Errorf("invalid envelope: %w", err)
	}

	switch frame.Event {
	case TelephonyMedia:
		if frame.Media == nil || frame.Media.Payload == "" {
			return TelephonyFrame{}, errors.New("invalid media frame")
		}
	case TelephonyStart:
		if frame.Start == nil {
			return TelephonyFrame{}, errors.New("invalid start frame")
		}
		if frame.Start.StreamSID == "" {
			frame.Start.StreamSID = frame.StreamSID
		}
		if frame.Start.StreamSID == "" {
			return TelephonyFrame{}, errors.New("start frame without stream sid")
		}
	case TelephonyMark:
		if frame.Mark == nil {
			frame.Mark = &MarkPayload{}
		}
	case TelephonyConnected, TelephonyStop, TelephonyDTMF:
	default:
		return TelephonyFrame{}, fmt.Errorf("%w: %q", ErrUnsupportedType, frame.Event)
	}
	return frame, nil
}

// NewMediaFrame builds an outbound audio frame for the given stream.
func NewMediaFrame(streamSID, payload string) TelephonyFrame {
	return TelephonyFrame{
		Event:     TelephonyMedia,
		StreamSID: streamSID,
		Media:     &MediaPayload{Payload: payload},
	}
}

// NewMarkFrame asks the telephony leg to echo name back once preceding audio has played.
func NewMarkFrame(streamSID, name string) TelephonyFrame {
	return TelephonyFrame{
		Event:     TelephonyMark,
		StreamSID: streamSID,
		Mark:      &MarkPayload{Name: name},
	}
}

// NewClearFrame flushes audio buffered on the telephony leg.
func NewClearFrame(streamSID string) TelephonyFrame {
	return TelephonyFrame{Event: TelephonyClear, StreamSID: streamSID}
}
