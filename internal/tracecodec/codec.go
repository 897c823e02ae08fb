// Package tracecodec encodes and decodes the cross-service trace context
// header carried on every journey request. The wire form follows the W3C
// trace-context shape: `version-traceid-spanid-flags`, lowercase hex.
// Decoding is a pure data transformation and never fails: a missing or
// malformed header yields a freshly fabricated root context, so one bad
// client can never break request handling.
package tracecodec

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
)

// Header is the HTTP header carrying the encoded context.
const Header = "traceparent"

// Context identifies a position in a distributed trace. TraceID is shared by
// every hop of one journey; ParentSpanID changes on each hop.
type Context struct {
	TraceID      string
	ParentSpanID string
	Sampled      bool
}

// NewRoot fabricates a brand new trace root. All traffic in this system is
// sampled; sampling decisions belong to the collector, not the harness.
func NewRoot() Context {
	return Context{
		TraceID:      NewTraceID(),
		ParentSpanID: NewSpanID(),
		Sampled:      true,
	}
}

// Child derives the context for the next hop: same trace, fresh span id.
func (c Context) Child() Context {
	return Context{
		TraceID:      c.TraceID,
		ParentSpanID: NewSpanID(),
		Sampled:      true,
	}
}

// Encode renders the wire form. Outbound contexts are always marked sampled.
func (c Context) Encode() string {
	return "00-" + c.TraceID + "-" + c.ParentSpanID + "-01"
}

// Inject writes the context into the header set.
func Inject(h http.Header, c Context) {
	h.Set(Header, c.Encode())
}

// Extract reads the context from an inbound request's headers. The boolean
// reports whether the returned context is a fabricated root: true when the
// header was absent or malformed, false when a valid upstream context was
// continued.
func Extract(h http.Header) (Context, bool) {
	raw := h.Get(Header)
	if raw == "" {
		return NewRoot(), true
	}
	return Parse(raw)
}

// Parse decodes a wire-form value. Malformed input (wrong field count, bad
// field lengths, non-hex characters, all-zero ids) yields a fabricated root
// and isRoot=true rather than an error.
func Parse(raw string) (Context, bool) {
	parts := strings.Split(strings.TrimSpace(raw), "-")
	if len(parts) != 4 {
		return NewRoot(), true
	}
	version, traceID, spanID, flags := parts[0], strings.ToLower(parts[1]), strings.ToLower(parts[2]), parts[3]
	if len(version) != 2 || len(traceID) != 32 || len(spanID) != 16 || len(flags) != 2 {
		return NewRoot(), true
	}
	if !isHex(version) || !isHex(traceID) || !isHex(spanID) || !isHex(flags) {
		return NewRoot(), true
	}
	if allZero(traceID) || allZero(spanID) {
		return NewRoot(), true
	}
	return Context{TraceID: traceID, ParentSpanID: spanID, Sampled: true}, false
}

// NewTraceID returns 16 random bytes as lowercase hex, never all zero.
func NewTraceID() string { return randomHex(16) }

// NewSpanID returns 8 random bytes as lowercase hex, never all zero.
func NewSpanID() string { return randomHex(8) }

func randomHex(n int) string {
	buf := make([]byte, n)
	for {
		// rand.Read never fails on supported platforms.
		_, _ = rand.Read(buf)
		s := hex.EncodeToString(buf)
		if !allZero(s) {
			return s
		}
	}
}

func isHex(s string) bool {
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func allZero(s string) bool {
	for _, r := range s {
		if r != '0' {
			return false
		}
	}
	return true
}
