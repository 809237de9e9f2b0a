// Package service defines the two interfaces the reactor's out-of-scope
// "request service" collaborator implements against this module (spec.md
// §1, §6.1): one to receive dispatched inbound request frames, one to
// receive batched response chains. Kept separate from the root package
// for the same reason the teacher keeps backend.Backend in its own
// package: avoiding an import cycle between the root package and the
// internal packages that need to reference the interface.
package service

import "github.com/kestrelnet/reactor/internal/frame"

// Handler receives inbound request frames as the parser produces them
// (spec.md §4.5 step 4: "dispatch the frame to the request handler").
// Handle must not block — it runs on the reactor's single thread, inline
// with the READ completion that produced the frame.
type Handler interface {
	Handle(f *frame.Frame)
}

// ResponseSink receives a chain of response frames accumulated by one
// parser pass, handed off in a single batched call once the inbound loop
// drains (spec.md §4.5: "hand the chain to the request service in a
// single batched call").
type ResponseSink interface {
	HandleResponses(chain []*frame.Frame)
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(f *frame.Frame)

func (fn HandlerFunc) Handle(f *frame.Frame) { fn(f) }
