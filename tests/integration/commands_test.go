package integration

import (
	"net"
	"testing"
	"time"

	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/handshake"
	"github.com/alxayo/go-rtmp/internal/rtmp/server"
)

// rtmpTestClient wraps a handshaken TCP connection with chunk reader/writer
// helpers so tests can exchange AMF0 command messages with a real server.
type rtmpTestClient struct {
	conn   net.Conn
	reader *chunk.Reader
	writer *chunk.Writer
}

func dialRTMPClient(t *testing.T, addr string) *rtmpTestClient {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if err := handshake.ClientHandshake(c); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	return &rtmpTestClient{
		conn:   c,
		reader: chunk.NewReader(c, 128),
		writer: chunk.NewWriter(c, 128),
	}
}

func (rc *rtmpTestClient) sendCommand(csid, streamID uint32, values ...interface{}) {
	payload, err := amf.EncodeAll(values...)
	if err != nil {
		panic(err)
	}
	msg := &chunk.Message{
		CSID:            csid,
		TypeID:          20, // AMF0 command
		MessageStreamID: streamID,
		MessageLength:   uint32(len(payload)),
		Payload:         payload,
	}
	if err := rc.writer.WriteMessage(msg); err != nil {
		panic(err)
	}
}

// nextCommand reads messages until it finds one carrying the named AMF0
// command (skipping control/user-control chatter), or the deadline elapses.
func (rc *rtmpTestClient) nextCommand(t *testing.T, name string) []interface{} {
	t.Helper()
	_ = rc.conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		msg, err := rc.reader.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %q: %v", name, err)
		}
		if msg.TypeID != 20 && msg.TypeID != 17 {
			continue
		}
		vals, err := amf.DecodeAll(msg.Payload)
		if err != nil {
			t.Fatalf("decode command payload: %v", err)
		}
		if len(vals) == 0 {
			continue
		}
		if cmdName, ok := vals[0].(string); ok && cmdName == name {
			return vals
		}
	}
}

// TestCommandsFlow drives a full connect -> createStream -> publish -> play
// lifecycle against a real in-process server and asserts the server's AMF0
// replies match the RTMP status conventions.
func TestCommandsFlow(t *testing.T) {
	s := server.New(server.Config{ListenAddr: "127.0.0.1:0"})
	if err := s.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	defer s.Stop()

	addr := s.Addr().String()

	t.Run("connect_createStream_publish", func(t *testing.T) {
		rc := dialRTMPClient(t, addr)
		defer rc.conn.Close()

		rc.sendCommand(3, 0, "connect", 1.0, map[string]interface{}{
			"app":            "live",
			"tcUrl":          "rtmp://" + addr + "/live",
			"flashVer":       "FMLE/3.0",
			"objectEncoding": 0.0,
		})
		result := rc.nextCommand(t, "_result")
		if len(result) < 4 {
			t.Fatalf("expected >=4 values in _result, got %d", len(result))
		}
		info, ok := result[3].(map[string]interface{})
		if !ok {
			t.Fatalf("expected info object as 4th _result value, got %T", result[3])
		}
		if code, _ := info["code"].(string); code != "NetConnection.Connect.Success" {
			t.Fatalf("expected NetConnection.Connect.Success, got %v", info["code"])
		}

		rc.sendCommand(3, 0, "createStream", 2.0, nil)
		csResult := rc.nextCommand(t, "_result")
		if len(csResult) < 4 {
			t.Fatalf("expected >=4 values in createStream _result, got %d", len(csResult))
		}
		streamID, ok := csResult[3].(float64)
		if !ok || streamID != 1 {
			t.Fatalf("expected allocated stream id 1.0, got %v", csResult[3])
		}

		rc.sendCommand(3, uint32(streamID), "publish", 0.0, nil, "cam", "live")
		status := rc.nextCommand(t, "onStatus")
		if len(status) < 4 {
			t.Fatalf("expected >=4 values in onStatus, got %d", len(status))
		}
		infoStatus, ok := status[3].(map[string]interface{})
		if !ok {
			t.Fatalf("expected info object, got %T", status[3])
		}
		if code, _ := infoStatus["code"].(string); code != "NetStream.Publish.Start" {
			t.Fatalf("expected NetStream.Publish.Start, got %v", infoStatus["code"])
		}
	})

	t.Run("play_flow", func(t *testing.T) {
		publisher := dialRTMPClient(t, addr)
		defer publisher.conn.Close()

		publisher.sendCommand(3, 0, "connect", 1.0, map[string]interface{}{"app": "live", "tcUrl": "rtmp://" + addr + "/live"})
		rc := publisher
		rc.nextCommand(t, "_result")
		rc.sendCommand(3, 0, "createStream", 2.0, nil)
		rc.nextCommand(t, "_result")
		rc.sendCommand(3, 1, "publish", 0.0, nil, "cam2", "live")
		rc.nextCommand(t, "onStatus")

		player := dialRTMPClient(t, addr)
		defer player.conn.Close()
		player.sendCommand(3, 0, "connect", 1.0, map[string]interface{}{"app": "live", "tcUrl": "rtmp://" + addr + "/live"})
		player.nextCommand(t, "_result")
		player.sendCommand(3, 0, "createStream", 2.0, nil)
		player.nextCommand(t, "_result")
		player.sendCommand(3, 1, "play", 0.0, nil, "cam2", -2.0, -1.0, true)

		status := player.nextCommand(t, "onStatus")
		info, ok := status[3].(map[string]interface{})
		if !ok {
			t.Fatalf("expected info object, got %T", status[3])
		}
		if code, _ := info["code"].(string); code != "NetStream.Play.Start" {
			t.Fatalf("expected NetStream.Play.Start, got %v", code)
		}
	})
}
