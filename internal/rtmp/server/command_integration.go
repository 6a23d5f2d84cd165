package server

// Command Integration
// --------------------
// Bridges the conn package's session-backed Connection with the stream
// registry so real RTMP clients (OBS / ffmpeg / VLC) can complete the full
// connect -> createStream -> publish/play -> deleteStream lifecycle, with
// media relayed to subscribers, optionally recorded, optionally pushed to
// external relay destinations, and reported through the hook system.
//
// Command parsing and reply building (connect's _result, createStream's
// _result + StreamBegin, publish/play's onStatus, pause/seek notify) now
// live in internal/rtmp/session.ServerSession; this file only wires the
// registry-side effects session.Handler cannot know about.

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	iconn "github.com/alxayo/go-rtmp/internal/rtmp/conn"
	"github.com/alxayo/go-rtmp/internal/rtmp/media"
	"github.com/alxayo/go-rtmp/internal/rtmp/relay"
	"github.com/alxayo/go-rtmp/internal/rtmp/server/hooks"
)

const (
	audioMessageTypeID = 8
	videoMessageTypeID = 9
	audioChunkStreamID = 4
	videoChunkStreamID = 6
)

// commandState holds mutable per-connection fields needed by the handler
// closures below.
type commandState struct {
	app           string
	streamKey     string // current publishing stream key, if publishing
	playStreamKey string // current playing stream key, if playing
	mediaLogger   *MediaLogger
	codecDetector *media.CodecDetector
	avFilter      *avFilter // set once OnPlay subscribes this connection
}

// attachCommandHandling installs session.Handler callbacks on the provided
// connection. Safe to call immediately after Accept returns, before Start().
func attachCommandHandling(c *iconn.Connection, reg *Registry, cfg *Config, log *slog.Logger, destMgr *relay.DestinationManager, srv *Server) {
	if c == nil || reg == nil || cfg == nil {
		return
	}
	st := &commandState{
		mediaLogger:   NewMediaLogger(c.ID(), log, 30*time.Second),
		codecDetector: &media.CodecDetector{},
	}

	c.SetConnectHandler(func(app, tcURL string) {
		st.app = app
		log.Info("connect accepted", "app", app, "tc_url", tcURL)
		srv.triggerHookEvent(hooks.EventHandshakeComplete, c.ID(), "", map[string]interface{}{"app": app})
	})

	c.SetPublishHandler(func(app, name, pubType string) error {
		streamKey := app + "/" + name
		isNewStream := reg.GetStream(streamKey) == nil
		streamKey, err := HandlePublish(reg, c, app, name)
		if err != nil {
			log.Error("publish handle", "error", err)
			return err
		}
		st.streamKey = streamKey

		if isNewStream {
			srv.triggerHookEvent(hooks.EventStreamCreate, c.ID(), streamKey, nil)
		}
		srv.triggerHookEvent(hooks.EventPublishStart, c.ID(), streamKey, map[string]interface{}{
			"publishing_type": pubType,
		})

		if cfg.RecordAll {
			stream := reg.GetStream(streamKey)
			if err := initRecorder(stream, cfg.RecordDir, log); err != nil {
				log.Error("failed to create recorder", "error", err, "stream_key", streamKey)
			} else {
				log.Info("recording started", "stream_key", streamKey, "record_dir", cfg.RecordDir)
			}
		}
		return nil
	})

	c.SetPlayHandler(func(app, name string, start, duration float64, reset bool) error {
		streamKey := app + "/" + name
		if err := HandlePlay(reg, c, streamKey, c.StreamID()); err != nil {
			log.Error("play handle", "error", err)
			return err
		}
		st.playStreamKey = streamKey
		if stream := reg.GetStream(streamKey); stream != nil {
			st.avFilter = stream.FindFilter(c)
		}
		srv.triggerHookEvent(hooks.EventPlayStart, c.ID(), streamKey, map[string]interface{}{
			"start":    start,
			"duration": duration,
		})
		return nil
	})

	c.SetReceiveAudioHandler(func(enable bool) {
		if st.avFilter != nil {
			st.avFilter.SetSendAudio(enable)
		}
	})

	c.SetReceiveVideoHandler(func(enable bool) {
		if st.avFilter != nil {
			st.avFilter.SetSendVideo(enable)
		}
	})

	c.SetDeleteStreamHandler(func(publishStreamKey, playStreamKey string) {
		if publishStreamKey != "" {
			PublisherDisconnected(reg, publishStreamKey, c)
			cleanupRecorder(reg, publishStreamKey, log)
			srv.triggerHookEvent(hooks.EventPublishStop, c.ID(), publishStreamKey, nil)
			if s := reg.GetStream(publishStreamKey); s != nil && s.SubscriberCount() == 0 {
				reg.DeleteStream(publishStreamKey)
				srv.triggerHookEvent(hooks.EventStreamDelete, c.ID(), publishStreamKey, nil)
			}
			st.streamKey = ""
		}
		if playStreamKey != "" {
			SubscriberDisconnected(reg, playStreamKey, c)
			srv.triggerHookEvent(hooks.EventPlayStop, c.ID(), playStreamKey, nil)
			st.playStreamKey = ""
		}
	})

	c.SetAudioHandler(func(payload []byte, timestamp uint32) {
		handleMedia(c, reg, destMgr, srv, st, log, audioMessageTypeID, audioChunkStreamID, payload, timestamp)
	})
	c.SetVideoHandler(func(payload []byte, timestamp uint32) {
		handleMedia(c, reg, destMgr, srv, st, log, videoMessageTypeID, videoChunkStreamID, payload, timestamp)
	})
}

// handleMedia reassembles a session-delivered (payload, timestamp) pair into
// a *chunk.Message on the publisher's allocated stream id and replays it
// through the same logging/recording/broadcast/relay pipeline the teacher's
// raw-message interception used.
func handleMedia(c *iconn.Connection, reg *Registry, destMgr *relay.DestinationManager, srv *Server, st *commandState, log *slog.Logger, typeID, csid uint32, payload []byte, timestamp uint32) {
	if st.streamKey == "" {
		return
	}
	m := &chunk.Message{
		CSID:            csid,
		TypeID:          typeID,
		Timestamp:       timestamp,
		MessageStreamID: c.StreamID(),
		Payload:         payload,
		MessageLength:   uint32(len(payload)),
	}
	st.mediaLogger.ProcessMessage(m)

	stream := reg.GetStream(st.streamKey)
	if stream == nil {
		return
	}
	if stream.Recorder != nil {
		stream.Recorder.WriteMessage(m)
	}
	codecBefore := stream.GetAudioCodec() + "|" + stream.GetVideoCodec()
	stream.BroadcastMessage(st.codecDetector, m, log)
	if after := stream.GetAudioCodec() + "|" + stream.GetVideoCodec(); after != codecBefore {
		srv.triggerHookEvent(hooks.EventCodecDetected, c.ID(), st.streamKey, map[string]interface{}{
			"audio_codec": stream.GetAudioCodec(),
			"video_codec": stream.GetVideoCodec(),
		})
	}
	if destMgr != nil {
		destMgr.RelayMessage(m)
	}
}

// initRecorder creates and initializes a recorder for the given stream.
// It generates a timestamped filename based on the stream key and stores
// the recorder in the stream's Recorder field.
func initRecorder(stream *Stream, recordDir string, log *slog.Logger) error {
	if stream == nil {
		return fmt.Errorf("nil stream")
	}

	if err := os.MkdirAll(recordDir, 0755); err != nil {
		return fmt.Errorf("create record dir: %w", err)
	}

	safeKey := strings.ReplaceAll(stream.Key, "/", "_")
	timestamp := time.Now().Format("20060102_150405")
	filename := fmt.Sprintf("%s_%s.flv", safeKey, timestamp)
	path := filepath.Join(recordDir, filename)

	recorder, err := media.NewRecorder(path, log)
	if err != nil {
		return fmt.Errorf("create recorder: %w", err)
	}

	stream.mu.Lock()
	stream.Recorder = recorder
	stream.mu.Unlock()

	log.Info("recorder initialized", "stream_key", stream.Key, "file", path)
	return nil
}

// cleanupRecorder closes and removes the recorder for the given stream key.
func cleanupRecorder(reg *Registry, streamKey string, log *slog.Logger) {
	if reg == nil || streamKey == "" {
		return
	}

	stream := reg.GetStream(streamKey)
	if stream == nil {
		return
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()

	if stream.Recorder != nil {
		if err := stream.Recorder.Close(); err != nil {
			log.Error("recorder close error", "error", err, "stream_key", streamKey)
		} else {
			log.Info("recorder closed", "stream_key", streamKey)
		}
		stream.Recorder = nil
	}
}
