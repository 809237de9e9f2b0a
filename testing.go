package reactor

import (
	"sync"

	"github.com/kestrelnet/reactor/internal/frame"
)

// MockHandler is a service.Handler that records every frame it receives,
// for verifying dispatch without wiring a real request service. Mirrors
// the teacher's MockBackend: a call-tracking double with Reset and
// CallCounts-style inspection methods rather than expectation scripting.
type MockHandler struct {
	mu     sync.Mutex
	frames []*frame.Frame
	calls  int
}

// NewMockHandler creates an empty MockHandler.
func NewMockHandler() *MockHandler {
	return &MockHandler{}
}

// Handle implements service.Handler.
func (m *MockHandler) Handle(f *frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.frames = append(m.frames, f)
}

// Frames returns every frame Handle has received, in order.
func (m *MockHandler) Frames() []*frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*frame.Frame, len(m.frames))
	copy(out, m.frames)
	return out
}

// CallCount returns the number of times Handle has been called.
func (m *MockHandler) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Reset clears all recorded frames and the call counter.
func (m *MockHandler) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames = nil
	m.calls = 0
}

// MockResponseSink is a service.ResponseSink that records every batched
// response chain it receives.
type MockResponseSink struct {
	mu     sync.Mutex
	chains [][]*frame.Frame
}

// NewMockResponseSink creates an empty MockResponseSink.
func NewMockResponseSink() *MockResponseSink {
	return &MockResponseSink{}
}

// HandleResponses implements service.ResponseSink.
func (m *MockResponseSink) HandleResponses(chain []*frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]*frame.Frame, len(chain))
	copy(cp, chain)
	m.chains = append(m.chains, cp)
}

// Chains returns every response chain HandleResponses has received.
func (m *MockResponseSink) Chains() [][]*frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]*frame.Frame, len(m.chains))
	copy(out, m.chains)
	return out
}

// CallCount returns the number of HandleResponses calls.
func (m *MockResponseSink) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.chains)
}

// Reset clears all recorded chains.
func (m *MockResponseSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.chains = nil
}

// MockChannelWriter is a service.ChannelWriter that records writes per channel ID instead of touching a real
// reactor's channel registry, for unit-testing request-service code in
// isolation.
type MockChannelWriter struct {
	mu      sync.Mutex
	written map[frame.ChannelID][]*frame.Frame
}

// NewMockChannelWriter creates an empty MockChannelWriter.
func NewMockChannelWriter() *MockChannelWriter {
	return &MockChannelWriter{written: make(map[frame.ChannelID][]*frame.Frame)}
}

// Write implements service.ChannelWriter (the interface the echo
// handler writes through).
func (m *MockChannelWriter) Write(id frame.ChannelID, f *frame.Frame) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written[id] = append(m.written[id], f)
}

// WrittenTo returns every frame written to channel id, in order.
func (m *MockChannelWriter) WrittenTo(id frame.ChannelID) []*frame.Frame {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*frame.Frame, len(m.written[id]))
	copy(out, m.written[id])
	return out
}

// Reset clears all recorded writes.
func (m *MockChannelWriter) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.written = make(map[frame.ChannelID][]*frame.Frame)
}

// Compile-time interface checks against the collaborator interfaces
// these mocks stand in for (internal/service, service).
var (
	_ interface{ Handle(f *frame.Frame) }                    = (*MockHandler)(nil)
	_ interface{ HandleResponses(chain []*frame.Frame) }     = (*MockResponseSink)(nil)
	_ interface{ Write(id frame.ChannelID, f *frame.Frame) } = (*MockChannelWriter)(nil)
)
