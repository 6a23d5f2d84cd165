package wsflv

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/media"
)

// fakeStream is a minimal StreamHandle stub that records AddSubscriber calls
// so the test can push a message directly through it.
type fakeStream struct {
	audioHdr, videoHdr *chunk.Message
	subscribers        []media.Subscriber
}

func (f *fakeStream) AddSubscriber(sub media.Subscriber)    { f.subscribers = append(f.subscribers, sub) }
func (f *fakeStream) RemoveSubscriber(sub media.Subscriber) {}
func (f *fakeStream) CachedSequenceHeaders() (audio, video *chunk.Message) {
	return f.audioHdr, f.videoHdr
}

type fakeSource struct {
	streams map[string]*fakeStream
}

func (f *fakeSource) LookupStream(key string) (StreamHandle, bool) {
	s, ok := f.streams[key]
	if !ok {
		return nil, false
	}
	return s, true
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServerStreamsCachedHeaderAndLiveFrame(t *testing.T) {
	videoHdr := &chunk.Message{TypeID: 9, Timestamp: 0, Payload: []byte{0x17, 0x00, 0x00, 0x00, 0x00, 0x01, 0x42, 0x00, 0x1e, 0xff}}
	fs := &fakeStream{videoHdr: videoHdr}
	src := &fakeSource{streams: map[string]*fakeStream{"live/cam": fs}}

	addr := freeAddr(t)
	s := New(Config{ListenAddr: addr}, src, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	// Start briefly polls the listener goroutine into existence; dial retries
	// handle the narrow startup window without a fixed sleep.
	var conn *websocket.Conn
	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, _, err = websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/live/cam", addr), nil)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	_, header, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read FLV header: %v", err)
	}
	if len(header) != 13 || header[0] != 'F' || header[1] != 'L' || header[2] != 'V' {
		t.Fatalf("expected 13-byte FLV file header, got %d bytes: %v", len(header), header)
	}

	_, cachedTag, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read cached sequence header tag: %v", err)
	}
	if len(cachedTag) < 11 || cachedTag[0] != 9 {
		t.Fatalf("expected video tag (type 9), got %v", cachedTag)
	}

	if len(fs.subscribers) != 1 {
		t.Fatalf("expected exactly one subscriber registered, got %d", len(fs.subscribers))
	}
	frame := &chunk.Message{TypeID: 9, Timestamp: 40, Payload: []byte{0x27, 0x01, 0x00, 0x00, 0x00}}
	if !fs.subscribers[0].(interface{ TrySendMessage(*chunk.Message) bool }).TrySendMessage(frame) {
		t.Fatalf("expected live frame to be queued")
	}

	_, liveTag, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read live frame tag: %v", err)
	}
	if len(liveTag) < 11 || liveTag[0] != 9 {
		t.Fatalf("expected video tag (type 9) for live frame, got %v", liveTag)
	}
}

func TestServerUnknownStreamReturns404(t *testing.T) {
	src := &fakeSource{streams: map[string]*fakeStream{}}
	addr := freeAddr(t)
	s := New(Config{ListenAddr: addr}, src, nil)
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	var err error
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		_, resp, dialErr := websocket.DefaultDialer.Dial(fmt.Sprintf("ws://%s/live/missing", addr), nil)
		if resp != nil {
			if resp.StatusCode != 404 {
				t.Fatalf("expected 404 for unknown stream, got %d", resp.StatusCode)
			}
			return
		}
		err = dialErr
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("never got an HTTP response: %v", err)
}
