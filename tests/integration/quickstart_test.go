package integration

import (
	"testing"
	"time"

	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/server"
)

// TestQuickstartScenario drives the full publish/subscribe lifecycle a real
// client (e.g. ffmpeg or OBS) exercises against the server: handshake,
// connect, createStream, publish, codec-bearing media, a second client
// joining as a player, and receipt of the relayed frames.
func TestQuickstartScenario(t *testing.T) {
	s := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err := s.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer s.Stop()
	addr := s.Addr().String()

	publisher := dialRTMPClient(t, addr)
	defer publisher.conn.Close()

	publisher.sendCommand(3, 0, "connect", 1.0, map[string]interface{}{
		"app": "live", "tcUrl": "rtmp://" + addr + "/live", "flashVer": "FMLE/3.0",
	})
	publisher.nextCommand(t, "_result")

	publisher.sendCommand(3, 0, "createStream", 2.0, nil)
	publisher.nextCommand(t, "_result")

	publisher.sendCommand(3, 1, "publish", 0.0, nil, "quickstart", "live")
	publisher.nextCommand(t, "onStatus")

	// AVC sequence header: FrameType=1 (key) | CodecID=7 (AVC); AVCPacketType=0 (sequence header).
	videoSeqHeader := append([]byte{0x17, 0x00, 0x00, 0x00, 0x00}, []byte{0x01, 0x42, 0x00, 0x1e, 0xff}...)
	if err := publisher.writer.WriteMessage(&chunk.Message{
		CSID: 6, TypeID: 9, MessageStreamID: 1, Timestamp: 0,
		MessageLength: uint32(len(videoSeqHeader)), Payload: videoSeqHeader,
	}); err != nil {
		t.Fatalf("send video sequence header: %v", err)
	}

	// AAC sequence header: SoundFormat=10 (AAC) | rate/size/type bits; AACPacketType=0.
	audioSeqHeader := []byte{0xAF, 0x00, 0x12, 0x10}
	if err := publisher.writer.WriteMessage(&chunk.Message{
		CSID: 4, TypeID: 8, MessageStreamID: 1, Timestamp: 0,
		MessageLength: uint32(len(audioSeqHeader)), Payload: audioSeqHeader,
	}); err != nil {
		t.Fatalf("send audio sequence header: %v", err)
	}

	// One media frame each so BroadcastMessage has a steady-state timestamp to relay.
	videoFrame := append([]byte{0x27, 0x01, 0x00, 0x00, 0x00}, make([]byte, 16)...)
	if err := publisher.writer.WriteMessage(&chunk.Message{
		CSID: 6, TypeID: 9, MessageStreamID: 1, Timestamp: 40,
		MessageLength: uint32(len(videoFrame)), Payload: videoFrame,
	}); err != nil {
		t.Fatalf("send video frame: %v", err)
	}

	// Wait (up to 2s) until the server tracks at least one connection before
	// the player subscribes.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && s.ConnectionCount() < 1 {
		time.Sleep(10 * time.Millisecond)
	}

	player := dialRTMPClient(t, addr)
	defer player.conn.Close()
	player.sendCommand(3, 0, "connect", 1.0, map[string]interface{}{"app": "live", "tcUrl": "rtmp://" + addr + "/live"})
	player.nextCommand(t, "_result")
	player.sendCommand(3, 0, "createStream", 2.0, nil)
	player.nextCommand(t, "_result")
	player.sendCommand(3, 1, "play", 0.0, nil, "quickstart", -2.0, -1.0, true)
	player.nextCommand(t, "onStatus")

	// Expect the cached video sequence header to arrive on the subscriber's
	// connection even though it subscribed after the header was sent.
	_ = player.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for i := 0; i < 8; i++ {
		msg, err := player.reader.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for relayed video sequence header: %v", err)
		}
		if msg.TypeID == 9 && len(msg.Payload) >= 2 && msg.Payload[0] == 0x17 && msg.Payload[1] == 0x00 {
			return
		}
	}
	t.Fatalf("did not observe relayed video sequence header within 8 messages")
}

// TestQuickstartConnectCommandObjectRoundTrip encodes a connect command with
// amf.EncodeAll and decodes it back with amf.DecodeAll, checking the command
// name and command object; no server is involved.
func TestQuickstartConnectCommandObjectRoundTrip(t *testing.T) {
	payload, err := amf.EncodeAll("connect", 1.0, map[string]interface{}{
		"app": "live", "objectEncoding": 0.0,
	})
	if err != nil {
		t.Fatalf("encode connect command: %v", err)
	}
	vals, err := amf.DecodeAll(payload)
	if err != nil {
		t.Fatalf("decode connect command: %v", err)
	}
	if len(vals) != 3 {
		t.Fatalf("expected 3 AMF values, got %d", len(vals))
	}
	if vals[0] != "connect" {
		t.Fatalf("expected command name 'connect', got %v", vals[0])
	}
	obj, ok := vals[2].(map[string]interface{})
	if !ok || obj["app"] != "live" {
		t.Fatalf("expected command object with app=live, got %v", vals[2])
	}
}
