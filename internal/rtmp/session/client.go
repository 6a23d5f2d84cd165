package session

import (
	"fmt"
	"log/slog"

	protoerr "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/control"
	"github.com/alxayo/go-rtmp/internal/rtmp/handshake"
)

type clientPhase uint8

const (
	clientPhaseC1Sent clientPhase = iota
	clientPhaseS1Received
	clientPhaseReady
	clientPhaseDestroyed
)

// ClientSession implements the push-style RTMP client engine, used by the
// reference embedding's relay (internal/rtmp/relay) to act as a publisher
// against downstream servers. The handshake is initiated eagerly by
// NewClientSession; Connect/CreateStream/Publish/Play may only be called
// once the handshake has completed (observed via OnConnectResult's absence
// of a prior error, or simply after enough successful Input calls).
type ClientSession struct {
	handler ClientHandler
	phase   clientPhase
	acc     []byte

	reader *chunk.PushReader
	writer *chunk.Writer

	readChunkSize uint32
	windowAckSize uint32
	peerBandwidth uint32
	limitType     uint8
	lastPeerAck   uint32
	ctrl          *control.Context

	app      string
	streamID uint32
	nextTxID float64

	pendingConnectTx      float64
	awaitingConnect       bool
	pendingCreateStreamTx float64
	awaitingCreateStream  bool

	// OnReady fires once the handshake completes and Connect/CreateStream/
	// Publish/Play become callable. Optional, mirrors chunk.PushReader.OnMessage.
	OnReady func()

	log *slog.Logger
}

// NewClientSession creates a ClientSession and immediately sends C0+C1.
func NewClientSession(handler ClientHandler) *ClientSession {
	s := &ClientSession{
		handler:       handler,
		phase:         clientPhaseC1Sent,
		readChunkSize: 128,
		windowAckSize: defaultWindowAckSize,
		peerBandwidth: defaultPeerBandwidth,
		limitType:     defaultPeerLimitType,
		nextTxID:      1,
		log:           logger.Logger().With("component", "session.client"),
	}
	s.writer = chunk.NewWriterFunc(handler.Send, defaultOutboundChunkSz)
	s.reader = chunk.NewPushReader(128)
	s.reader.OnMessage = s.handleMessage
	s.ctrl = &control.Context{
		ReadChunkSize: &s.readChunkSize,
		WindowAckSize: &s.windowAckSize,
		PeerBandwidth: &s.peerBandwidth,
		LimitType:     &s.limitType,
		LastPeerAck:   &s.lastPeerAck,
		Log:           s.log,
		Send:          s.writer.WriteMessage,
	}

	c1, err := newTimePacket()
	if err != nil {
		s.fail(protoerr.NewHandshakeError("build C1", err))
		return s
	}
	out := make([]byte, 0, 1+handshake.PacketSize)
	out = append(out, handshake.Version)
	out = append(out, c1...)
	if err := handler.Send(out); err != nil {
		s.fail(protoerr.NewHandshakeError("send C0+C1", err))
	}
	return s
}

// Input feeds a fragment of the inbound byte stream.
func (s *ClientSession) Input(data []byte) error {
	if s.phase == clientPhaseDestroyed {
		return protoerr.NewProtocolError("session.input", fmt.Errorf("session destroyed"))
	}
	for len(data) > 0 {
		switch s.phase {
		case clientPhaseC1Sent:
			consumed, full := fillAcc(&s.acc, data, 1+handshake.PacketSize)
			data = data[consumed:]
			if !full {
				return nil
			}
			if err := s.completeS0S1(); err != nil {
				s.fail(err)
				return err
			}
		case clientPhaseS1Received:
			consumed, full := fillAcc(&s.acc, data, handshake.PacketSize)
			data = data[consumed:]
			if !full {
				return nil
			}
			s.acc = nil
			s.phase = clientPhaseReady
			// Announce the outbound chunk size the writer already uses; the
			// peer reads at 128 until it sees Set Chunk Size.
			if err := s.writer.WriteMessage(control.EncodeSetChunkSize(defaultOutboundChunkSz)); err != nil {
				s.fail(err)
				return err
			}
			if s.OnReady != nil {
				s.OnReady()
			}
		case clientPhaseReady:
			if err := s.reader.Input(data); err != nil {
				s.fail(err)
				return err
			}
			data = nil
		}
	}
	return nil
}

func (s *ClientSession) completeS0S1() error {
	s0 := s.acc[0]
	if s0 > handshake.Version {
		return protoerr.NewHandshakeError("validate S0", fmt.Errorf("unsupported version 0x%02x", s0))
	}
	s1 := s.acc[1:]
	c2 := make([]byte, len(s1))
	copy(c2, s1)
	if err := s.handler.Send(c2); err != nil {
		return protoerr.NewHandshakeError("send C2", err)
	}
	s.acc = s.acc[:0]
	s.phase = clientPhaseS1Received
	return nil
}

func (s *ClientSession) fail(err error) {
	s.phase = clientPhaseDestroyed
	if s.handler != nil {
		s.handler.OnError(err)
	}
}

func (s *ClientSession) handleMessage(msg *chunk.Message) error {
	switch {
	case msg.TypeID >= control.TypeSetChunkSize && msg.TypeID <= control.TypeSetPeerBandwidth:
		if err := control.Handle(s.ctrl, msg); err != nil {
			return protoerr.NewProtocolError("session.control", err)
		}
		return nil
	case msg.TypeID == amf0CommandMessageType:
		s.handleCommand(msg)
		return nil
	case msg.TypeID == audioMessageTypeID:
		s.handler.OnAudio(msg.Payload, msg.Timestamp)
		return nil
	case msg.TypeID == videoMessageTypeID:
		s.handler.OnVideo(msg.Payload, msg.Timestamp)
		return nil
	default:
		s.log.Debug("ignoring unhandled message type", "type_id", msg.TypeID)
		return nil
	}
}

func (s *ClientSession) handleCommand(msg *chunk.Message) {
	vals, err := amf.DecodeAll(msg.Payload)
	if err != nil || len(vals) == 0 {
		s.log.Debug("client: malformed command message", "error", err)
		return
	}
	name, _ := vals[0].(string)
	switch name {
	case "_result", "_error":
		trx, _ := vals[1].(float64)
		success := name == "_result"
		switch {
		case s.awaitingConnect && trx == s.pendingConnectTx:
			s.awaitingConnect = false
			s.handler.OnConnectResult(success, statusDescription(vals))
		case s.awaitingCreateStream && trx == s.pendingCreateStreamTx:
			s.awaitingCreateStream = false
			var streamID uint32
			if len(vals) >= 4 {
				if id, ok := vals[3].(float64); ok {
					streamID = uint32(id)
				}
			}
			s.streamID = streamID
			s.handler.OnCreateStreamResult(streamID, success)
		}
	case "onStatus":
		if len(vals) >= 4 {
			if info, ok := vals[3].(map[string]interface{}); ok {
				code, _ := info["code"].(string)
				desc, _ := info["description"].(string)
				s.handler.OnStatus(code, desc)
			}
		}
	default:
		s.log.Debug("client: unhandled command", "name", name)
	}
}

func statusDescription(vals []interface{}) string {
	if len(vals) < 4 {
		return ""
	}
	info, ok := vals[3].(map[string]interface{})
	if !ok {
		return ""
	}
	desc, _ := info["description"].(string)
	return desc
}

// Ready reports whether the handshake has completed and Connect may be called.
func (s *ClientSession) Ready() bool { return s.phase == clientPhaseReady }

// Connect sends a connect command for the given application and tcUrl. Must
// be called only after the handshake has completed.
func (s *ClientSession) Connect(app, tcURL string) error {
	if s.phase != clientPhaseReady {
		return protoerr.NewProtocolError("session.connect", fmt.Errorf("handshake not complete"))
	}
	s.app = app
	s.pendingConnectTx = s.nextTxID
	s.awaitingConnect = true
	s.nextTxID++
	cmd := map[string]interface{}{
		"app":            app,
		"flashVer":       "FMLE/3.0 (compatible; go-rtmp)",
		"tcUrl":          tcURL,
		"objectEncoding": 0.0,
	}
	payload, err := amf.EncodeAll("connect", s.pendingConnectTx, cmd)
	if err != nil {
		return protoerr.NewAMFError("session.connect.encode", err)
	}
	return s.writer.WriteMessage(&chunk.Message{
		CSID: invokeChunkStreamID, TypeID: amf0CommandMessageType, MessageStreamID: 0,
		Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// CreateStream sends a createStream command. Must follow a successful Connect.
func (s *ClientSession) CreateStream() error {
	if s.phase != clientPhaseReady {
		return protoerr.NewProtocolError("session.create_stream", fmt.Errorf("handshake not complete"))
	}
	s.pendingCreateStreamTx = s.nextTxID
	s.awaitingCreateStream = true
	s.nextTxID++
	payload, err := amf.EncodeAll("createStream", s.pendingCreateStreamTx, nil)
	if err != nil {
		return protoerr.NewAMFError("session.create_stream.encode", err)
	}
	return s.writer.WriteMessage(&chunk.Message{
		CSID: invokeChunkStreamID, TypeID: amf0CommandMessageType, MessageStreamID: 0,
		Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// Publish sends a publish command on the stream allocated by CreateStream.
func (s *ClientSession) Publish(name, pubType string) error {
	payload, err := amf.EncodeAll("publish", float64(0), nil, name, pubType)
	if err != nil {
		return protoerr.NewAMFError("session.publish.encode", err)
	}
	return s.writer.WriteMessage(&chunk.Message{
		CSID: invokeChunkStreamID, TypeID: amf0CommandMessageType, MessageStreamID: s.streamID,
		Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// Play sends a play command on the stream allocated by CreateStream.
func (s *ClientSession) Play(name string, start, duration float64) error {
	payload, err := amf.EncodeAll("play", float64(0), nil, name, start, duration)
	if err != nil {
		return protoerr.NewAMFError("session.play.encode", err)
	}
	return s.writer.WriteMessage(&chunk.Message{
		CSID: invokeChunkStreamID, TypeID: amf0CommandMessageType, MessageStreamID: s.streamID,
		Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// SendAudio forwards an audio payload on the active stream.
func (s *ClientSession) SendAudio(payload []byte, timestamp uint32) error {
	return s.writer.WriteMessage(&chunk.Message{
		CSID: 4, TypeID: audioMessageTypeID, MessageStreamID: s.streamID,
		Timestamp: timestamp, Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// SendVideo forwards a video payload on the active stream.
func (s *ClientSession) SendVideo(payload []byte, timestamp uint32) error {
	return s.writer.WriteMessage(&chunk.Message{
		CSID: 6, TypeID: videoMessageTypeID, MessageStreamID: s.streamID,
		Timestamp: timestamp, Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// SendMetadata forwards an AMF0 data message (e.g. @setDataFrame onMetaData).
func (s *ClientSession) SendMetadata(payload []byte) error {
	return s.writer.WriteMessage(&chunk.Message{
		CSID: invokeChunkStreamID, TypeID: 18, MessageStreamID: s.streamID,
		Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// Destroy marks the session unusable.
func (s *ClientSession) Destroy() {
	s.phase = clientPhaseDestroyed
	s.reader = nil
}
