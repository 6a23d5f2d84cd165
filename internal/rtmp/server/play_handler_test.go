package server

import (
	"testing"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

// capturingConn collects all sent messages for ordering assertions.
type capturingConn struct{ sent []*chunk.Message }

func (c *capturingConn) SendMessage(m *chunk.Message) error { c.sent = append(c.sent, m); return nil }

// stubPublisher is a placeholder used to mark a stream as published.
type stubPublisher struct{}

func TestHandlePlaySuccess(t *testing.T) {
	reg := NewRegistry()
	s, _ := reg.CreateStream("app/live1")
	if err := s.SetPublisher(&stubPublisher{}); err != nil {
		t.Fatalf("set publisher: %v", err)
	}

	conn := &capturingConn{}
	if err := HandlePlay(reg, conn, "app/live1", 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Expect exactly one message sent: the StreamBegin control message
	// (no cached sequence headers yet).
	if len(conn.sent) != 1 {
		t.Fatalf("expected 1 message sent, got %d", len(conn.sent))
	}
	if s.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", s.SubscriberCount())
	}
}

func TestHandlePlayStreamNotFound(t *testing.T) {
	reg := NewRegistry() // no streams created
	conn := &capturingConn{}
	if err := HandlePlay(reg, conn, "app/missing", 1); err == nil {
		t.Fatalf("expected error for missing stream")
	}
	if len(conn.sent) != 0 {
		t.Fatalf("expected no messages sent on failure, got %d", len(conn.sent))
	}
}

func TestSubscriberDisconnected(t *testing.T) {
	reg := NewRegistry()
	s, _ := reg.CreateStream("app/streamX")
	_ = s.SetPublisher(&stubPublisher{})
	conn := &capturingConn{}
	if err := HandlePlay(reg, conn, "app/streamX", 1); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if s.SubscriberCount() != 1 {
		t.Fatalf("expected subscriber added")
	}
	SubscriberDisconnected(reg, "app/streamX", conn)
	if s.SubscriberCount() != 0 {
		t.Fatalf("expected subscriber removed on disconnect")
	}
}
