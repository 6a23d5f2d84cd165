package session

import (
	"testing"

	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/rpc"
)

type fakeClientHandler struct {
	sent           [][]byte
	errs           []error
	connectResults []connectResult
	createResults  []createResult
	statuses       []statusEvent
	audio          []avCall
	video          []avCall
}

type connectResult struct {
	success bool
	desc    string
}
type createResult struct {
	streamID uint32
	success  bool
}
type statusEvent struct{ code, desc string }

func (f *fakeClientHandler) Send(data []byte) error {
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, cp)
	return nil
}
func (f *fakeClientHandler) OnError(err error) { f.errs = append(f.errs, err) }
func (f *fakeClientHandler) OnConnectResult(success bool, description string) {
	f.connectResults = append(f.connectResults, connectResult{success, description})
}
func (f *fakeClientHandler) OnCreateStreamResult(streamID uint32, success bool) {
	f.createResults = append(f.createResults, createResult{streamID, success})
}
func (f *fakeClientHandler) OnStatus(code, description string) {
	f.statuses = append(f.statuses, statusEvent{code, description})
}
func (f *fakeClientHandler) OnAudio(payload []byte, timestamp uint32) {
	f.audio = append(f.audio, avCall{payload, timestamp})
}
func (f *fakeClientHandler) OnVideo(payload []byte, timestamp uint32) {
	f.video = append(f.video, avCall{payload, timestamp})
}

func clientDoHandshake(t *testing.T, s *ClientSession, h *fakeClientHandler) {
	t.Helper()
	if len(h.sent) != 1 {
		t.Fatalf("expected C0+C1 sent eagerly, got %d sends", len(h.sent))
	}
	if got := len(h.sent[0]); got != 1+1536 {
		t.Fatalf("C0+C1 length = %d, want %d", got, 1+1536)
	}
	s1 := randomPacket(t)
	s0s1 := append([]byte{0x03}, s1...)
	h.sent = nil
	if err := s.Input(s0s1[:20]); err != nil {
		t.Fatalf("Input partial s0s1: %v", err)
	}
	if err := s.Input(s0s1[20:]); err != nil {
		t.Fatalf("Input rest s0s1: %v", err)
	}
	if len(h.sent) != 1 || len(h.sent[0]) != 1536 {
		t.Fatalf("expected C2 (1536 bytes) sent, got %v", h.sent)
	}
	h.sent = nil
	s2 := randomPacket(t)
	if err := s.Input(s2); err != nil {
		t.Fatalf("Input s2: %v", err)
	}
	if s.phase != clientPhaseReady {
		t.Fatalf("phase = %v, want ready", s.phase)
	}
}

func TestClientSession_HandshakeThenConnectCreateStreamPublish(t *testing.T) {
	h := &fakeClientHandler{}
	s := NewClientSession(h)
	clientDoHandshake(t, s, h)

	h.sent = nil
	if err := s.Connect("live", "rtmp://example/live"); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected 1 send for connect, got %d", len(h.sent))
	}
	sent := decodeOne(t, h.sent[0])
	vals, err := amf.DecodeAll(sent.Payload)
	if err != nil || vals[0] != "connect" {
		t.Fatalf("connect payload decode: vals=%v err=%v", vals, err)
	}

	connectReply, err := rpc.BuildConnectResponse(1.0, "Connection succeeded.")
	if err != nil {
		t.Fatalf("BuildConnectResponse: %v", err)
	}
	if err := s.Input(messageBytes(t, connectReply)); err != nil {
		t.Fatalf("feed connect reply: %v", err)
	}
	if len(h.connectResults) != 1 || !h.connectResults[0].success {
		t.Fatalf("OnConnectResult calls = %+v", h.connectResults)
	}

	h.sent = nil
	if err := s.CreateStream(); err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	allocator := rpc.NewStreamIDAllocator()
	csReply, _, err := rpc.BuildCreateStreamResponse(2.0, allocator)
	if err != nil {
		t.Fatalf("BuildCreateStreamResponse: %v", err)
	}
	if err := s.Input(messageBytes(t, csReply)); err != nil {
		t.Fatalf("feed createStream reply: %v", err)
	}
	if len(h.createResults) != 1 || !h.createResults[0].success || h.createResults[0].streamID != 1 {
		t.Fatalf("OnCreateStreamResult calls = %+v", h.createResults)
	}
	if s.streamID != 1 {
		t.Fatalf("client streamID = %d, want 1", s.streamID)
	}

	h.sent = nil
	if err := s.Publish("mystream", "live"); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected 1 send for publish, got %d", len(h.sent))
	}
	publishMsg := decodeOne(t, h.sent[0])
	if publishMsg.MessageStreamID != 1 {
		t.Fatalf("publish MessageStreamID = %d, want 1", publishMsg.MessageStreamID)
	}

	status, err := rpc.BuildOnStatus(1, "live/mystream", rpc.StatusPublishStart, "Publishing live/mystream.")
	if err != nil {
		t.Fatalf("BuildOnStatus: %v", err)
	}
	if err := s.Input(messageBytes(t, status)); err != nil {
		t.Fatalf("feed onStatus: %v", err)
	}
	if len(h.statuses) != 1 || h.statuses[0].code != rpc.StatusPublishStart {
		t.Fatalf("OnStatus calls = %+v", h.statuses)
	}
}

func TestClientSession_ConnectBeforeHandshakeFails(t *testing.T) {
	h := &fakeClientHandler{}
	s := NewClientSession(h)
	if err := s.Connect("live", "rtmp://x/live"); err == nil {
		t.Fatalf("expected error calling Connect before handshake completes")
	}
}

func TestClientSession_DestroyRejectsFurtherInput(t *testing.T) {
	h := &fakeClientHandler{}
	s := NewClientSession(h)
	s.Destroy()
	if err := s.Input([]byte{0x03}); err == nil {
		t.Fatalf("expected error after Destroy")
	}
}
