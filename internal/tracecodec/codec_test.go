package tracecodec

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTripPreservesTraceID(t *testing.T) {
	root := NewRoot()
	h := http.Header{}
	Inject(h, root)

	got, isRoot := Extract(h)
	assert.False(t, isRoot)
	assert.Equal(t, root.TraceID, got.TraceID)
	assert.Equal(t, root.ParentSpanID, got.ParentSpanID)
	assert.True(t, got.Sampled)
}

func TestExtractHeaderKeyCaseInsensitive(t *testing.T) {
	root := NewRoot()
	h := http.Header{}
	h.Set("Traceparent", root.Encode())

	got, isRoot := Extract(h)
	assert.False(t, isRoot)
	assert.Equal(t, root.TraceID, got.TraceID)
}

func TestExtractMissingHeaderFabricatesRoot(t *testing.T) {
	got, isRoot := Extract(http.Header{})
	assert.True(t, isRoot)
	assert.Len(t, got.TraceID, 32)
	assert.Len(t, got.ParentSpanID, 16)
	assert.True(t, got.Sampled)
}

func TestParseMalformedFabricatesRoot(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"garbage", "not-a-traceparent"},
		{"two fields", "00-4bf92f3577b34da6a3ce929d0e0e4736"},
		{"five fields", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01-extra"},
		{"short trace id", "00-4bf92f35-00f067aa0ba902b7-01"},
		{"short span id", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa-01"},
		{"non-hex trace id", "00-zzzzzzzzzzzzzzzzzzzzzzzzzzzzzzzz-00f067aa0ba902b7-01"},
		{"non-hex span id", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba9zzzz-01"},
		{"all-zero trace id", "00-00000000000000000000000000000000-00f067aa0ba902b7-01"},
		{"all-zero span id", "00-4bf92f3577b34da6a3ce929d0e0e4736-0000000000000000-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, isRoot := Parse(tt.raw)
			assert.True(t, isRoot)
			assert.Len(t, got.TraceID, 32)
			assert.Len(t, got.ParentSpanID, 16)
			assert.False(t, allZero(got.TraceID))
		})
	}
}

func TestParseWellFormed(t *testing.T) {
	got, isRoot := Parse("00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")
	require.False(t, isRoot)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID)
	assert.Equal(t, "00f067aa0ba902b7", got.ParentSpanID)
}

func TestParseNormalizesUppercaseHex(t *testing.T) {
	got, isRoot := Parse("00-4BF92F3577B34DA6A3CE929D0E0E4736-00F067AA0BA902B7-01")
	require.False(t, isRoot)
	assert.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", got.TraceID)
	assert.Equal(t, "00f067aa0ba902b7", got.ParentSpanID)
}

func TestChildKeepsTraceChangesSpan(t *testing.T) {
	root := NewRoot()
	child := root.Child()

	assert.Equal(t, root.TraceID, child.TraceID)
	assert.NotEqual(t, root.ParentSpanID, child.ParentSpanID)
	assert.True(t, child.Sampled)
}

func TestEncodeAlwaysSampled(t *testing.T) {
	c := Context{TraceID: "4bf92f3577b34da6a3ce929d0e0e4736", ParentSpanID: "00f067aa0ba902b7"}
	enc := c.Encode()
	assert.Equal(t, "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", enc)
}

func TestSpanIDsUnique(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for i := 0; i < 1000; i++ {
		id := NewSpanID()
		require.False(t, seen[id], "duplicate span id %s", id)
		seen[id] = true
	}
}
