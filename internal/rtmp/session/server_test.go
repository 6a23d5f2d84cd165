package session

import (
	"crypto/rand"
	"fmt"
	"testing"

	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/rpc"
)

// fakeHandler is a recording Handler used across session tests.
type fakeHandler struct {
	sent     [][]byte
	errs     []error
	publish  []pubCall
	play     []playCall
	pause    []pauseCall
	seek     []float64
	audio    []avCall
	video    []avCall
	retErr   error // returned by OnPublish/OnPlay/OnPause/OnSeek if non-nil
}

type pubCall struct{ app, name, pubType string }
type playCall struct {
	app, name              string
	start, duration        float64
	reset                  bool
}
type pauseCall struct {
	paused bool
	ms     float64
}
type avCall struct {
	payload   []byte
	timestamp uint32
}

func (f *fakeHandler) Send(data []byte) error {
	cp := append([]byte(nil), data...)
	f.sent = append(f.sent, cp)
	return nil
}
func (f *fakeHandler) OnError(err error) { f.errs = append(f.errs, err) }
func (f *fakeHandler) OnPublish(app, name, pubType string) error {
	f.publish = append(f.publish, pubCall{app, name, pubType})
	return f.retErr
}
func (f *fakeHandler) OnPlay(app, name string, start, duration float64, reset bool) error {
	f.play = append(f.play, playCall{app, name, start, duration, reset})
	return f.retErr
}
func (f *fakeHandler) OnPause(paused bool, ms float64) error {
	f.pause = append(f.pause, pauseCall{paused, ms})
	return f.retErr
}
func (f *fakeHandler) OnSeek(ms float64) error {
	f.seek = append(f.seek, ms)
	return f.retErr
}
func (f *fakeHandler) OnAudio(payload []byte, timestamp uint32) {
	f.audio = append(f.audio, avCall{payload, timestamp})
}
func (f *fakeHandler) OnVideo(payload []byte, timestamp uint32) {
	f.video = append(f.video, avCall{payload, timestamp})
}

// randomPacket returns a handshake.PacketSize-length slice of arbitrary bytes.
func randomPacket(t *testing.T) []byte {
	t.Helper()
	b := make([]byte, 1536)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return b
}

// messageBytes serializes msg exactly as the wire writer would, for use as
// scripted test input feeding a session's Input.
func messageBytes(t *testing.T, msg *chunk.Message) []byte {
	t.Helper()
	var out []byte
	w := chunk.NewWriterFunc(func(b []byte) error {
		out = append(out, b...)
		return nil
	}, 128)
	if err := w.WriteMessage(msg); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	return out
}

// commandMessage builds an AMF0 command chunk message (type 20).
func commandMessage(t *testing.T, msid uint32, values ...interface{}) *chunk.Message {
	t.Helper()
	payload, err := amf.EncodeAll(values...)
	if err != nil {
		t.Fatalf("amf encode: %v", err)
	}
	return &chunk.Message{CSID: 3, TypeID: 20, MessageStreamID: msid, Payload: payload, MessageLength: uint32(len(payload))}
}

// decodeOne parses exactly one message out of blob using a scratch PushReader
// set to the 4096-byte chunk size both sessions announce after the handshake.
func decodeOne(t *testing.T, blob []byte) *chunk.Message {
	t.Helper()
	r := chunk.NewPushReader(4096)
	var got *chunk.Message
	r.OnMessage = func(m *chunk.Message) error {
		if got == nil {
			got = m
		}
		return nil
	}
	if err := r.Input(blob); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got == nil {
		t.Fatalf("no message decoded from %d bytes", len(blob))
	}
	return got
}

func doHandshake(t *testing.T, s *ServerSession, h *fakeHandler) {
	t.Helper()
	c1 := randomPacket(t)
	c0c1 := append([]byte{0x03}, c1...)
	// Feed in two fragments to exercise arbitrary split handling.
	if err := s.Input(c0c1[:10]); err != nil {
		t.Fatalf("Input partial c0c1: %v", err)
	}
	if err := s.Input(c0c1[10:]); err != nil {
		t.Fatalf("Input rest c0c1: %v", err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected 1 Send call for S0+S1+S2, got %d", len(h.sent))
	}
	if got := len(h.sent[0]); got != 1+1536+1536 {
		t.Fatalf("S0+S1+S2 length = %d, want %d", got, 1+1536+1536)
	}
	c2 := randomPacket(t)
	if err := s.Input(c2[:500]); err != nil {
		t.Fatalf("Input partial c2: %v", err)
	}
	if err := s.Input(c2[500:]); err != nil {
		t.Fatalf("Input rest c2: %v", err)
	}
	if s.phase != phaseStreaming {
		t.Fatalf("phase after handshake = %v, want streaming", s.phase)
	}
}

func TestServerSession_HandshakeFragmentedByteAtATime(t *testing.T) {
	h := &fakeHandler{}
	s := NewServerSession(h)
	c1 := randomPacket(t)
	c0c1 := append([]byte{0x03}, c1...)
	for _, b := range c0c1 {
		if err := s.Input([]byte{b}); err != nil {
			t.Fatalf("Input byte: %v", err)
		}
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected S0S1S2 after full C0C1, got %d sends", len(h.sent))
	}
	c2 := randomPacket(t)
	for _, b := range c2 {
		if err := s.Input([]byte{b}); err != nil {
			t.Fatalf("Input byte: %v", err)
		}
	}
	if s.phase != phaseStreaming {
		t.Fatalf("phase = %v, want streaming", s.phase)
	}
}

func TestServerSession_ConnectCreateStreamPublish(t *testing.T) {
	h := &fakeHandler{}
	s := NewServerSession(h)
	doHandshake(t, s, h)

	connectCmd := commandMessage(t, 0, "connect", 1.0, map[string]interface{}{
		"app": "live", "tcUrl": "rtmp://example/live", "objectEncoding": 0.0,
	})
	h.sent = nil
	if err := s.Input(messageBytes(t, connectCmd)); err != nil {
		t.Fatalf("connect Input: %v", err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected 1 send (connect _result), got %d", len(h.sent))
	}
	result := decodeOne(t, h.sent[0])
	vals, err := amf.DecodeAll(result.Payload)
	if err != nil || vals[0] != "_result" {
		t.Fatalf("connect reply decode: vals=%v err=%v", vals, err)
	}
	if s.app != "live" {
		t.Fatalf("app = %q, want live", s.app)
	}

	h.sent = nil
	createCmd := commandMessage(t, 0, "createStream", 2.0, nil)
	if err := s.Input(messageBytes(t, createCmd)); err != nil {
		t.Fatalf("createStream Input: %v", err)
	}
	if len(h.sent) != 2 {
		t.Fatalf("expected 2 sends (_result + StreamBegin), got %d", len(h.sent))
	}
	csResult := decodeOne(t, h.sent[0])
	csVals, err := amf.DecodeAll(csResult.Payload)
	if err != nil || csVals[0] != "_result" {
		t.Fatalf("createStream reply decode: vals=%v err=%v", csVals, err)
	}
	if s.streamID != 1 {
		t.Fatalf("streamID = %d, want 1", s.streamID)
	}

	h.sent = nil
	publishCmd := commandMessage(t, s.streamID, "publish", 0.0, nil, "mystream", "live")
	if err := s.Input(messageBytes(t, publishCmd)); err != nil {
		t.Fatalf("publish Input: %v", err)
	}
	if len(h.publish) != 1 || h.publish[0] != (pubCall{"live", "mystream", "live"}) {
		t.Fatalf("OnPublish calls = %+v", h.publish)
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected onStatus Publish.Start send, got %d", len(h.sent))
	}
	status := decodeOne(t, h.sent[0])
	sVals, err := amf.DecodeAll(status.Payload)
	if err != nil || sVals[0] != "onStatus" {
		t.Fatalf("publish status decode: vals=%v err=%v", sVals, err)
	}
	info := sVals[3].(map[string]interface{})
	if info["code"] != rpc.StatusPublishStart {
		t.Fatalf("code = %v, want %v", info["code"], rpc.StatusPublishStart)
	}
}

func TestServerSession_PublishRejected(t *testing.T) {
	h := &fakeHandler{retErr: fmt.Errorf("stream key already in use")}
	s := NewServerSession(h)
	doHandshake(t, s, h)
	_ = s.Input(messageBytes(t, commandMessage(t, 0, "connect", 1.0, map[string]interface{}{"app": "live"})))
	_ = s.Input(messageBytes(t, commandMessage(t, 0, "createStream", 2.0, nil)))

	h.sent = nil
	publishCmd := commandMessage(t, s.streamID, "publish", 0.0, nil, "taken", "live")
	if err := s.Input(messageBytes(t, publishCmd)); err != nil {
		t.Fatalf("publish Input: %v", err)
	}
	if len(h.errs) != 1 {
		t.Fatalf("expected OnError call, got %d", len(h.errs))
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected error-status send, got %d", len(h.sent))
	}
	status := decodeOne(t, h.sent[0])
	vals, _ := amf.DecodeAll(status.Payload)
	info := vals[3].(map[string]interface{})
	if info["code"] != rpc.StatusPublishBadName {
		t.Fatalf("code = %v, want %v", info["code"], rpc.StatusPublishBadName)
	}
}

func TestServerSession_AudioVideoForwardingRespectsReceiveToggle(t *testing.T) {
	h := &fakeHandler{}
	s := NewServerSession(h)
	doHandshake(t, s, h)
	_ = s.Input(messageBytes(t, commandMessage(t, 0, "connect", 1.0, map[string]interface{}{"app": "live"})))
	_ = s.Input(messageBytes(t, commandMessage(t, 0, "createStream", 2.0, nil)))

	audioMsg := &chunk.Message{CSID: 4, TypeID: 8, MessageStreamID: s.streamID, Timestamp: 42, Payload: []byte{0xAF, 0x01}, MessageLength: 2}
	if err := s.Input(messageBytes(t, audioMsg)); err != nil {
		t.Fatalf("audio Input: %v", err)
	}
	if len(h.audio) != 1 || h.audio[0].timestamp != 42 {
		t.Fatalf("OnAudio calls = %+v", h.audio)
	}

	h.sent = nil
	if err := s.SendAudio([]byte{0xAF, 0x01}, 100); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	if len(h.sent) != 1 {
		t.Fatalf("expected SendAudio to emit a chunk, got %d", len(h.sent))
	}

	receiveAudioOff := commandMessage(t, s.streamID, "receiveAudio", 0.0, nil, false)
	if err := s.Input(messageBytes(t, receiveAudioOff)); err != nil {
		t.Fatalf("receiveAudio Input: %v", err)
	}
	h.sent = nil
	if err := s.SendAudio([]byte{0xAF, 0x01}, 200); err != nil {
		t.Fatalf("SendAudio after disable: %v", err)
	}
	if len(h.sent) != 0 {
		t.Fatalf("expected SendAudio suppressed after receiveAudio(false), got %d sends", len(h.sent))
	}
}

func TestServerSession_DestroyRejectsFurtherInput(t *testing.T) {
	h := &fakeHandler{}
	s := NewServerSession(h)
	s.Destroy()
	if err := s.Input([]byte{0x03}); err == nil {
		t.Fatalf("expected error after Destroy")
	}
}
