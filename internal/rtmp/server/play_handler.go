package server

// Play Handler
// ------------------------
// Subscribes a client connection to an existing published stream. Command
// parsing and the onStatus NetStream.Play.Start/StreamNotFound reply are
// owned by internal/rtmp/session.ServerSession (see command_integration.go's
// SetPlayHandler); this file registers the subscriber, sends the play-time
// User Control Stream Begin, and replays cached sequence headers so a
// late-joining subscriber gets codec initialization before media frames.

import (
	"fmt"

	rtmperrors "github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/control"
)

// HandlePlay subscribes conn to streamKey, wrapped in an avFilter so a later
// receiveAudio/receiveVideo toggle can mute one leg without unsubscribing.
// Returns an error if the stream has no active publisher yet.
func HandlePlay(reg *Registry, conn sender, streamKey string, streamID uint32) error {
	if reg == nil || conn == nil {
		return rtmperrors.NewProtocolError("play.handle", fmt.Errorf("nil argument"))
	}

	log := logger.Logger().With("component", "rtmp_server")

	stream := reg.GetStream(streamKey)
	if stream == nil || stream.Publisher == nil {
		log.Warn("play command failed - stream not found or no publisher", "stream_key", streamKey)
		return fmt.Errorf("stream %s not found", streamKey)
	}

	filter := newAVFilter(conn)
	stream.AddSubscriber(filter)
	log.Info("subscriber added", "stream_key", streamKey, "total_subscribers", stream.SubscriberCount())

	// User Control Stream Begin (event 0) announces the play-time stream.
	_ = conn.SendMessage(control.EncodeUserControlStreamBegin(streamID))

	// Replay cached sequence headers so codec initialization (SPS/PPS for
	// H.264, AudioSpecificConfig for AAC) reaches the subscriber before any
	// media frame, even though it joined mid-stream.
	stream.mu.RLock()
	audioSeqHdr := stream.AudioSequenceHeader
	videoSeqHdr := stream.VideoSequenceHeader
	stream.mu.RUnlock()

	if audioSeqHdr != nil {
		audioMsg := &chunk.Message{
			CSID:            audioSeqHdr.CSID,
			TypeID:          audioSeqHdr.TypeID,
			Timestamp:       0,
			MessageStreamID: streamID,
			MessageLength:   audioSeqHdr.MessageLength,
			Payload:         make([]byte, len(audioSeqHdr.Payload)),
		}
		copy(audioMsg.Payload, audioSeqHdr.Payload)
		_ = conn.SendMessage(audioMsg)
		log.Info("sent cached audio sequence header to subscriber", "stream_key", streamKey, "size", len(audioMsg.Payload))
	}

	if videoSeqHdr != nil {
		videoMsg := &chunk.Message{
			CSID:            videoSeqHdr.CSID,
			TypeID:          videoSeqHdr.TypeID,
			Timestamp:       0,
			MessageStreamID: streamID,
			MessageLength:   videoSeqHdr.MessageLength,
			Payload:         make([]byte, len(videoSeqHdr.Payload)),
		}
		copy(videoMsg.Payload, videoSeqHdr.Payload)
		_ = conn.SendMessage(videoMsg)
		log.Info("sent cached video sequence header to subscriber", "stream_key", streamKey, "size", len(videoMsg.Payload))
	}

	return nil
}

// SubscriberDisconnected removes the subscriber from the stream's list (if present).
func SubscriberDisconnected(reg *Registry, streamKey string, sub sender) {
	if reg == nil || streamKey == "" || sub == nil {
		return
	}
	s := reg.GetStream(streamKey)
	if s == nil {
		return
	}
	s.RemoveSubscriber(sub.(interface{ SendMessage(*chunk.Message) error }))
}
