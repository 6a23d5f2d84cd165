package server

import (
	"testing"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

// stubConn captures the last message sent; it mimics the subset of the
// connection we need (SendMessage). SendMessage always succeeds.
type stubConn struct{ last *chunk.Message }

func (s *stubConn) SendMessage(m *chunk.Message) error { s.last = m; return nil }

func TestHandlePublishSuccess(t *testing.T) {
	reg := NewRegistry()
	sc := &stubConn{}

	streamKey, err := HandlePublish(reg, sc, "app", "testStream")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if streamKey != "app/testStream" {
		t.Fatalf("unexpected stream key: %s", streamKey)
	}
	s := reg.GetStream("app/testStream")
	if s == nil || s.Publisher == nil {
		t.Fatalf("expected stream and publisher to be registered")
	}
}

func TestHandlePublishDuplicate(t *testing.T) {
	reg := NewRegistry()
	first := &stubConn{}
	second := &stubConn{}
	if _, err := HandlePublish(reg, first, "app", "dup"); err != nil {
		t.Fatalf("first publish failed: %v", err)
	}
	if _, err := HandlePublish(reg, second, "app", "dup"); err == nil {
		t.Fatalf("expected duplicate publish error")
	}
}

func TestPublisherDisconnected(t *testing.T) {
	reg := NewRegistry()
	sc := &stubConn{}
	if _, err := HandlePublish(reg, sc, "app", "gone"); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	PublisherDisconnected(reg, "app/gone", sc)
	if s := reg.GetStream("app/gone"); s == nil || s.Publisher != nil {
		t.Fatalf("expected publisher cleared on disconnect")
	}
}
