package events

import "sync"

// Hub maps session ids to their Stream, the process-wide registry the
// upload endpoint and the SSE endpoint both look up by sessionId
// (spec.md §6: POST /api/mining/upload starts a run, GET
// /api/workflow/stream/{sessionId} attaches to it).
type Hub struct {
	mu      sync.Mutex
	streams map[string]*Stream
}

// NewHub builds an empty Hub.
func NewHub() *Hub {
	return &Hub{streams: make(map[string]*Stream)}
}

// Open creates (or returns the existing) Stream for sessionID.
func (h *Hub) Open(sessionID string) *Stream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.streams[sessionID]; ok {
		return s
	}
	s := NewStream(DefaultQueueSize)
	h.streams[sessionID] = s
	return s
}

// Get looks up an existing session's Stream without creating one.
func (h *Hub) Get(sessionID string) (*Stream, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.streams[sessionID]
	return s, ok
}

// Close closes and forgets sessionID's Stream.
func (h *Hub) Close(sessionID string) {
	h.mu.Lock()
	s, ok := h.streams[sessionID]
	delete(h.streams, sessionID)
	h.mu.Unlock()
	if ok {
		s.Close()
	}
}
