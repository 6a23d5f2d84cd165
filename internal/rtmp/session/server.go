package session

import (
	"fmt"
	"log/slog"

	protoerr "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/control"
	"github.com/alxayo/go-rtmp/internal/rtmp/handshake"
	"github.com/alxayo/go-rtmp/internal/rtmp/rpc"
)

const (
	defaultWindowAckSize    = 2_500_000
	defaultPeerBandwidth    = 2_500_000
	defaultPeerLimitType    = 2 // dynamic
	defaultBufferLengthMs   = 30_000
	defaultOutboundChunkSz  = 4096
	audioMessageTypeID      = 8
	videoMessageTypeID      = 9
	amf0CommandMessageType  = 20
	invokeChunkStreamID     = 3
)

type serverPhase uint8

const (
	phaseAwaitC0C1 serverPhase = iota
	phaseAwaitC2
	phaseStreaming
	phaseDestroyed
)

// ServerSession implements the push-style RTMP server engine: callers feed
// inbound bytes via Input and receive outbound bytes and protocol events
// through Handler. See the session package doc for the reentrancy contract.
type ServerSession struct {
	handler Handler
	hs      *handshake.Handshake
	phase   serverPhase
	acc     []byte

	reader *chunk.PushReader
	writer *chunk.Writer

	readChunkSize uint32
	windowAckSize uint32
	peerBandwidth uint32
	limitType     uint8
	lastPeerAck   uint32
	ctrl          *control.Context

	dispatcher *rpc.Dispatcher
	allocator  *rpc.StreamIDAllocator

	app              string
	streamID         uint32
	publishStreamKey string
	playStreamKey    string
	sendAudio        bool
	sendVideo        bool

	bytesReceived uint32
	lastAck       uint32

	// OnConnect, OnDeleteStream, OnReceiveAudioChange and OnReceiveVideoChange
	// are optional hooks for embeddings that need events the External
	// Interface's Handler does not carry (mirrors chunk.PushReader.OnMessage).
	// Unset fields are simply skipped.
	OnConnect            func(app, tcURL string)
	OnDeleteStream       func(publishStreamKey, playStreamKey string)
	OnReceiveAudioChange func(enable bool)
	OnReceiveVideoChange func(enable bool)

	log *slog.Logger
}

// NewServerSession creates a ServerSession awaiting C0+C1 from the peer.
func NewServerSession(handler Handler) *ServerSession {
	s := &ServerSession{
		handler:       handler,
		hs:            handshake.New(),
		phase:         phaseAwaitC0C1,
		readChunkSize: 128,
		windowAckSize: defaultWindowAckSize,
		peerBandwidth: defaultPeerBandwidth,
		limitType:     defaultPeerLimitType,
		allocator:     rpc.NewStreamIDAllocator(),
		sendAudio:     true,
		sendVideo:     true,
		log:           logger.Logger().With("component", "session.server"),
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
	s.dispatcher = rpc.NewDispatcher(func() string { return s.app })
	s.dispatcher.OnConnect = s.onConnect
	s.dispatcher.OnCreateStream = s.onCreateStream
	s.dispatcher.OnPublish = s.onPublish
	s.dispatcher.OnPlay = s.onPlay
	s.dispatcher.OnPause = s.onPause
	s.dispatcher.OnSeek = s.onSeek
	s.dispatcher.OnReceiveAudio = s.onReceiveAudio
	s.dispatcher.OnReceiveVideo = s.onReceiveVideo
	s.dispatcher.OnDeleteStream = s.onDeleteStream
	return s
}

// Input feeds a fragment of the inbound byte stream. It may invoke any
// number of Handler callbacks, and Handler.Send, before returning.
func (s *ServerSession) Input(data []byte) error {
	if s.phase == phaseDestroyed {
		return protoerr.NewProtocolError("session.input", fmt.Errorf("session destroyed"))
	}
	for len(data) > 0 {
		switch s.phase {
		case phaseAwaitC0C1:
			consumed, full := fillAcc(&s.acc, data, 1+handshake.PacketSize)
			data = data[consumed:]
			if !full {
				return nil
			}
			if err := s.completeC0C1(); err != nil {
				s.fail(err)
				return err
			}
		case phaseAwaitC2:
			consumed, full := fillAcc(&s.acc, data, handshake.PacketSize)
			data = data[consumed:]
			if !full {
				return nil
			}
			if err := s.completeC2(); err != nil {
				s.fail(err)
				return err
			}
		case phaseStreaming:
			s.bytesReceived += uint32(len(data))
			if err := s.reader.Input(data); err != nil {
				s.fail(err)
				return err
			}
			if s.windowAckSize > 0 && s.bytesReceived-s.lastAck >= s.windowAckSize {
				s.lastAck = s.bytesReceived
				if err := s.writer.WriteMessage(control.EncodeAcknowledgement(s.bytesReceived)); err != nil {
					s.fail(err)
					return err
				}
			}
			data = nil
		}
	}
	return nil
}

// fillAcc appends data onto *acc until it reaches target length, returning
// the number of bytes consumed from data and whether target was reached.
func fillAcc(acc *[]byte, data []byte, target int) (int, bool) {
	need := target - len(*acc)
	if need <= 0 {
		return 0, true
	}
	if need > len(data) {
		*acc = append(*acc, data...)
		return len(data), false
	}
	*acc = append(*acc, data[:need]...)
	return need, true
}

func (s *ServerSession) completeC0C1() error {
	c0 := s.acc[0]
	c1 := s.acc[1:]
	if err := s.hs.AcceptC0C1(c0, c1); err != nil {
		return err
	}
	s1, err := newTimePacket()
	if err != nil {
		return protoerr.NewHandshakeError("build S1", err)
	}
	if err := s.hs.SetS1(s1); err != nil {
		return err
	}
	s2 := s.hs.C1() // echo C1 back as S2
	out := make([]byte, 0, 1+2*handshake.PacketSize)
	out = append(out, handshake.Version)
	out = append(out, s1...)
	out = append(out, s2...)
	if err := s.handler.Send(out); err != nil {
		return protoerr.NewHandshakeError("send S0+S1+S2", err)
	}
	s.acc = s.acc[:0]
	s.phase = phaseAwaitC2
	return nil
}

func (s *ServerSession) completeC2() error {
	if err := s.hs.AcceptC2(s.acc); err != nil {
		return err
	}
	if err := s.hs.Complete(); err != nil {
		return err
	}
	s.acc = nil
	s.phase = phaseStreaming
	return s.sendControlBurst()
}

// sendControlBurst emits the standard post-handshake Window Acknowledgement
// Size / Set Peer Bandwidth / Set Chunk Size sequence, in that order, before
// any command message is processed.
func (s *ServerSession) sendControlBurst() error {
	if err := s.writer.WriteMessage(control.EncodeWindowAcknowledgementSize(s.windowAckSize)); err != nil {
		return protoerr.NewProtocolError("session.control_burst.window_ack", err)
	}
	if err := s.writer.WriteMessage(control.EncodeSetPeerBandwidth(s.peerBandwidth, s.limitType)); err != nil {
		return protoerr.NewProtocolError("session.control_burst.peer_bandwidth", err)
	}
	if err := s.writer.WriteMessage(control.EncodeSetChunkSize(defaultOutboundChunkSz)); err != nil {
		return protoerr.NewProtocolError("session.control_burst.chunk_size", err)
	}
	s.writer.SetChunkSize(defaultOutboundChunkSz)
	s.log.Info("control burst sent", "window_ack_size", s.windowAckSize, "peer_bandwidth", s.peerBandwidth, "chunk_size", defaultOutboundChunkSz)
	return nil
}

// fail reports a fatal error to the handler before it is also returned from
// Input; the session must not be used again afterward.
func (s *ServerSession) fail(err error) {
	s.phase = phaseDestroyed
	if s.handler != nil {
		s.handler.OnError(err)
	}
}

// handleMessage routes a fully reassembled chunk message by type id.
func (s *ServerSession) handleMessage(msg *chunk.Message) error {
	switch {
	case msg.TypeID >= control.TypeSetChunkSize && msg.TypeID <= control.TypeSetPeerBandwidth:
		if err := control.Handle(s.ctrl, msg); err != nil {
			return protoerr.NewProtocolError("session.control", err)
		}
		return nil
	case msg.TypeID == amf0CommandMessageType:
		if err := s.dispatcher.Dispatch(msg); err != nil {
			s.handler.OnError(err)
		}
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

func (s *ServerSession) onConnect(cc *rpc.ConnectCommand, msg *chunk.Message) error {
	s.app = cc.App
	if s.OnConnect != nil {
		s.OnConnect(cc.App, cc.TcURL)
	}
	resp, err := rpc.BuildConnectResponse(cc.TransactionID, "Connection succeeded.")
	if err != nil {
		return err
	}
	return s.writer.WriteMessage(resp)
}

func (s *ServerSession) onCreateStream(cs *rpc.CreateStreamCommand, msg *chunk.Message) error {
	resp, streamID, err := rpc.BuildCreateStreamResponse(cs.TransactionID, s.allocator)
	if err != nil {
		return err
	}
	s.streamID = streamID
	if err := s.writer.WriteMessage(resp); err != nil {
		return err
	}
	return s.writer.WriteMessage(control.EncodeUserControlStreamBegin(streamID))
}

func (s *ServerSession) onPublish(pc *rpc.PublishCommand, msg *chunk.Message) error {
	if err := s.handler.OnPublish(s.app, pc.PublishingName, pc.PublishingType); err != nil {
		s.handler.OnError(err)
		resp, berr := rpc.BuildOnStatus(msg.MessageStreamID, pc.StreamKey, rpc.StatusPublishBadName, err.Error())
		if berr != nil {
			return berr
		}
		return s.writer.WriteMessage(resp)
	}
	s.publishStreamKey = pc.StreamKey
	resp, err := rpc.BuildOnStatus(msg.MessageStreamID, pc.StreamKey, rpc.StatusPublishStart, fmt.Sprintf("Publishing %s.", pc.StreamKey))
	if err != nil {
		return err
	}
	return s.writer.WriteMessage(resp)
}

func (s *ServerSession) onPlay(pl *rpc.PlayCommand, msg *chunk.Message) error {
	if err := s.handler.OnPlay(s.app, pl.StreamName, float64(pl.Start), float64(pl.Duration), pl.Reset); err != nil {
		s.handler.OnError(err)
		resp, berr := rpc.BuildOnStatus(msg.MessageStreamID, pl.StreamKey, rpc.StatusPlayStreamNotFound, err.Error())
		if berr != nil {
			return berr
		}
		return s.writer.WriteMessage(resp)
	}
	s.playStreamKey = pl.StreamKey
	if pl.Reset {
		reset, err := rpc.BuildOnStatus(msg.MessageStreamID, pl.StreamKey, rpc.StatusPlayReset, fmt.Sprintf("Playing and resetting %s.", pl.StreamKey))
		if err != nil {
			return err
		}
		if err := s.writer.WriteMessage(reset); err != nil {
			return err
		}
	}
	start, err := rpc.BuildOnStatus(msg.MessageStreamID, pl.StreamKey, rpc.StatusPlayStart, fmt.Sprintf("Started playing %s.", pl.StreamKey))
	if err != nil {
		return err
	}
	return s.writer.WriteMessage(start)
}

func (s *ServerSession) onPause(pc *rpc.PauseCommand, msg *chunk.Message) error {
	if err := s.handler.OnPause(pc.Pause, float64(pc.MilliSeconds)); err != nil {
		s.handler.OnError(err)
		return nil
	}
	if s.playStreamKey == "" {
		return nil
	}
	code, desc := rpc.StatusPauseNotify, "Paused live"
	if !pc.Pause {
		code, desc = rpc.StatusUnpauseNotify, "Unpaused live"
	}
	resp, err := rpc.BuildOnStatus(msg.MessageStreamID, s.playStreamKey, code, desc)
	if err != nil {
		return err
	}
	return s.writer.WriteMessage(resp)
}

func (s *ServerSession) onSeek(sc *rpc.SeekCommand, msg *chunk.Message) error {
	if err := s.handler.OnSeek(float64(sc.MilliSeconds)); err != nil {
		s.handler.OnError(err)
		return nil
	}
	if s.playStreamKey == "" {
		return nil
	}
	resp, err := rpc.BuildOnStatus(msg.MessageStreamID, s.playStreamKey, rpc.StatusSeekNotify, "Seek notify")
	if err != nil {
		return err
	}
	return s.writer.WriteMessage(resp)
}

func (s *ServerSession) onReceiveAudio(rc *rpc.ReceiveAudioCommand, msg *chunk.Message) error {
	s.sendAudio = rc.Enable
	if s.OnReceiveAudioChange != nil {
		s.OnReceiveAudioChange(rc.Enable)
	}
	return nil
}

func (s *ServerSession) onReceiveVideo(rc *rpc.ReceiveVideoCommand, msg *chunk.Message) error {
	s.sendVideo = rc.Enable
	if s.OnReceiveVideoChange != nil {
		s.OnReceiveVideoChange(rc.Enable)
	}
	return nil
}

func (s *ServerSession) onDeleteStream(values []interface{}, msg *chunk.Message) error {
	if _, err := rpc.ParseDeleteStreamCommand(values); err != nil {
		return err
	}
	pubKey, playKey := s.publishStreamKey, s.playStreamKey
	s.publishStreamKey = ""
	s.playStreamKey = ""
	if s.OnDeleteStream != nil {
		s.OnDeleteStream(pubKey, playKey)
	}
	return nil
}

// SendMessage forwards a raw chunk message verbatim, preserving its CSID,
// timestamp and message stream id. Used by embeddings that fan a publisher's
// message out to subscribers unchanged, where SendAudio/SendVideo's fixed
// CSIDs would not reproduce the original wire framing.
func (s *ServerSession) SendMessage(msg *chunk.Message) error {
	return s.writer.WriteMessage(msg)
}

// StreamID returns the message stream id allocated by the most recent
// createStream command, for embeddings that need to reconstruct a
// *chunk.Message from Handler.OnAudio/OnVideo's (payload, timestamp) pair.
func (s *ServerSession) StreamID() uint32 { return s.streamID }

// HandshakeComplete reports whether the session has finished the handshake
// and entered the streaming phase.
func (s *ServerSession) HandshakeComplete() bool { return s.phase == phaseStreaming }

// SendAudio forwards an audio payload to the peer on the active stream,
// honoring a prior receiveAudio(false) toggle.
func (s *ServerSession) SendAudio(payload []byte, timestamp uint32) error {
	if !s.sendAudio {
		return nil
	}
	return s.writer.WriteMessage(&chunk.Message{
		CSID: 4, TypeID: audioMessageTypeID, MessageStreamID: s.streamID,
		Timestamp: timestamp, Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// SendVideo forwards a video payload to the peer, honoring a prior
// receiveVideo(false) toggle.
func (s *ServerSession) SendVideo(payload []byte, timestamp uint32) error {
	if !s.sendVideo {
		return nil
	}
	return s.writer.WriteMessage(&chunk.Message{
		CSID: 6, TypeID: videoMessageTypeID, MessageStreamID: s.streamID,
		Timestamp: timestamp, Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// SendMetadata forwards an AMF0 data message (e.g. onMetaData) to the peer.
func (s *ServerSession) SendMetadata(payload []byte) error {
	return s.writer.WriteMessage(&chunk.Message{
		CSID: invokeChunkStreamID, TypeID: 18, MessageStreamID: s.streamID,
		Payload: payload, MessageLength: uint32(len(payload)),
	})
}

// Destroy marks the session unusable. Subsequent Input calls return an
// error; reassembly state is dropped for collection.
func (s *ServerSession) Destroy() {
	s.phase = phaseDestroyed
	s.reader = nil
}
