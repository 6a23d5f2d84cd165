// Package wsflv exposes a small debug relay: any active published stream can
// be previewed over a websocket as a raw FLV byte stream, reusing the
// recorder's tag framing (internal/rtmp/media) instead of a full media
// player stack. It is not part of the RTMP wire protocol; it exists purely
// so an operator can point ffplay/mpv/a <video> tag at
// ws://host:port/<app>/<streamName> and watch a publish.
package wsflv

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/media"
)

// StreamSource resolves a "app/streamName" key to a StreamHandle, mirroring
// the lookup the RTMP registry already performs for play subscribers.
type StreamSource interface {
	LookupStream(key string) (StreamHandle, bool)
}

// StreamHandle is the subset of server.Stream the websocket relay needs:
// subscriber management plus the cached sequence headers so a late-joining
// viewer still gets a decodable FLV (matching the play handler's behavior
// for RTMP subscribers).
type StreamHandle interface {
	AddSubscriber(media.Subscriber)
	RemoveSubscriber(media.Subscriber)
	CachedSequenceHeaders() (audio, video *chunk.Message)
}

// Config controls the websocket relay listener.
type Config struct {
	ListenAddr  string
	QueueDepth  int           // per-viewer outbound buffer before frames are dropped
	WriteWindow time.Duration // per-frame write deadline
}

func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = ":8090"
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 256
	}
	if c.WriteWindow <= 0 {
		c.WriteWindow = 2 * time.Second
	}
}

// Server is the debug FLV-over-websocket relay.
type Server struct {
	cfg    Config
	src    StreamSource
	log    *slog.Logger
	http   *http.Server
	upgrad websocket.Upgrader
}

// New creates a Server bound to the given stream source. Call Start to begin
// listening.
func New(cfg Config, src StreamSource, log *slog.Logger) *Server {
	cfg.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		src: src,
		log: log.With("component", "wsflv"),
		upgrad: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleViewer)
	s.http = &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	return s
}

// Start begins listening in a background goroutine. Errors after a
// successful bind (e.g. mid-flight handler panics) are logged, not returned.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return err
	}
	s.log.Info("websocket FLV relay listening", "addr", ln.Addr().String())
	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("websocket relay serve error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully shuts the HTTP listener down. Viewers already upgraded to
// websocket are hijacked connections, which http.Server.Shutdown neither
// closes nor waits for.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// handleViewer upgrades the request, subscribes to the requested stream key
// (the URL path, sans leading slash, e.g. "/live/cam" -> "live/cam"), and
// streams FLV tags until the viewer disconnects.
func (s *Server) handleViewer(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/")
	if key == "" {
		http.Error(w, "missing stream key", http.StatusBadRequest)
		return
	}
	stream, ok := s.src.LookupStream(key)
	if !ok {
		http.Error(w, "stream not found", http.StatusNotFound)
		return
	}

	conn, err := s.upgrad.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err, "stream_key", key)
		return
	}

	viewer := newViewer(conn, s.cfg.QueueDepth, s.cfg.WriteWindow, s.log.With("stream_key", key))
	defer viewer.close()

	if err := viewer.writeRaw(media.FLVHeader()); err != nil {
		return
	}
	audioHdr, videoHdr := stream.CachedSequenceHeaders()
	if videoHdr != nil {
		_ = viewer.SendMessage(videoHdr)
	}
	if audioHdr != nil {
		_ = viewer.SendMessage(audioHdr)
	}

	stream.AddSubscriber(viewer)
	defer stream.RemoveSubscriber(viewer)

	viewer.run()
}

// viewer adapts one websocket connection into a media.Subscriber, writing
// FLV tags from a bounded queue so a slow browser can never block the
// RTMP read loop feeding it.
type viewer struct {
	conn        *websocket.Conn
	writeWindow time.Duration
	log         *slog.Logger

	queue    chan []byte
	done     chan struct{}
	closeOne sync.Once
}

func newViewer(conn *websocket.Conn, depth int, writeWindow time.Duration, log *slog.Logger) *viewer {
	return &viewer{
		conn:        conn,
		writeWindow: writeWindow,
		log:         log,
		queue:       make(chan []byte, depth),
		done:        make(chan struct{}),
	}
}

// SendMessage implements media.Subscriber by encoding msg as an FLV tag and
// enqueuing it; full queues drop the frame rather than block the broadcaster.
func (v *viewer) SendMessage(msg *chunk.Message) error {
	v.TrySendMessage(msg)
	return nil
}

// TrySendMessage implements media.TrySendMessage.
func (v *viewer) TrySendMessage(msg *chunk.Message) bool {
	tag, err := media.EncodeFLVTag(msg.TypeID, msg.Timestamp, msg.Payload)
	if err != nil {
		return false
	}
	select {
	case v.queue <- tag:
		return true
	default:
		v.log.Debug("dropped frame, viewer queue full")
		return false
	}
}

func (v *viewer) writeRaw(b []byte) error {
	_ = v.conn.SetWriteDeadline(time.Now().Add(v.writeWindow))
	return v.conn.WriteMessage(websocket.BinaryMessage, b)
}

// run drains the outbound queue until the connection closes or a read error
// (viewers don't send anything meaningful, but a closed socket must be
// detected promptly) occurs on a parallel reader goroutine.
func (v *viewer) run() {
	go v.drainReads()
	for {
		select {
		case tag := <-v.queue:
			if err := v.writeRaw(tag); err != nil {
				return
			}
		case <-v.done:
			return
		}
	}
}

// drainReads discards inbound frames (the protocol is output-only) purely to
// notice when the peer closes the socket.
func (v *viewer) drainReads() {
	for {
		if _, _, err := v.conn.ReadMessage(); err != nil {
			v.close()
			return
		}
	}
}

func (v *viewer) close() {
	v.closeOne.Do(func() {
		close(v.done)
		_ = v.conn.Close()
	})
}
