package bridge

import "sync"

// StreamState is the per-call relay state shared by the inbound and outbound
// loops. All access goes through its mutex.
type StreamState struct {
	mu                sync.Mutex
	streamSID         string
	latestMediaTS     int64
	lastAssistantItem string
	marks             []string
	responseStartTS   int64
	responding        bool
}

// Truncation describes how much of the interrupted reply the caller heard.
type Truncation struct {
	StreamSID  string
	ItemID     string
	AudioEndMS int64
}

// StateSnapshot is a point-in-time copy of StreamState.
type StateSnapshot struct {
	StreamSID         string
	LatestMediaTS     int64
	LastAssistantItem string
	PendingMarks      int
	ResponseStartTS   int64
	Responding        bool
}

func NewStreamState() *StreamState {
	return &StreamState{}
}

// Start adopts a new stream id and forgets everything about the previous one.
func (s *StreamState) Start(streamSID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamSID = streamSID
	s.latestMediaTS = 0
	s.lastAssistantItem = ""
	s.marks = s.marks[:0]
	s.responseStartTS = 0
	s.responding = false
}

// ObserveMedia records the timestamp of the latest inbound audio chunk.
func (s *StreamState) ObserveMedia(ts int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latestMediaTS = ts
}

func (s *StreamState) StreamSID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamSID
}

// BeginAudio registers an outgoing assistant audio chunk. The first chunk of
// a response pins the response start to the current inbound timestamp.
// It returns the stream id to send the audio on.
func (s *StreamState) BeginAudio(itemID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.responding {
		s.responseStartTS = s.latestMediaTS
		s.responding = true
	}
	if itemID != "" {
		s.lastAssistantItem = itemID
	}
	return s.streamSID
}

func (s *StreamState) PushMark(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = append(s.marks, name)
}

// PopMark drops the oldest pending mark, if any.
func (s *StreamState) PopMark() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.marks) > 0 {
		s.marks = s.marks[1:]
	}
}

// Interrupt ends the in-flight response when the caller starts speaking.
// It reports false when no response audio was sent since the last reset.
// On true the marks, last item and response start are cleared.
func (s *StreamState) Interrupt() (Truncation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.responding {
		return Truncation{}, false
	}
	elapsed := s.latestMediaTS - s.responseStartTS
	if elapsed < 0 {
		elapsed = 0
	}
	t := Truncation{
		StreamSID:  s.streamSID,
		ItemID:     s.lastAssistantItem,
		AudioEndMS: elapsed,
	}
	s.marks = nil
	s.lastAssistantItem = ""
	s.responseStartTS = 0
	s.responding = false
	return t, true
}

func (s *StreamState) Snapshot() StateSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StateSnapshot{
		StreamSID:         s.streamSID,
		LatestMediaTS:     s.latestMediaTS,
		LastAssistantItem: s.lastAssistantItem,
		PendingMarks:      len(s.marks),
		ResponseStartTS:   s.responseStartTS,
		Responding:        s.responding,
	}
}
