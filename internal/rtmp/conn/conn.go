package conn

// Package conn bridges a net.Conn to internal/rtmp/session's push-style
// engine: Accept drives the handshake synchronously through
// session.ServerSession.Input, and Start launches the read/write loops that
// keep feeding it for the life of the connection. Connection implements
// session.Handler itself, delegating each callback to an optional setter-
// installed func field so command_integration.go can wire registry/hook
// behavior without the session package knowing anything about streams,
// recording or hooks.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alxayo/go-rtmp/internal/logger"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/session"
)

// Connection represents an accepted RTMP connection driven by a
// session.ServerSession. sessMu serializes every call into the session:
// the read loop's Input calls and other goroutines' broadcast SendMessage
// calls alike, since neither the session nor its chunk.Writer is safe for
// concurrent use.
type Connection struct {
	id                string
	netConn           net.Conn
	remoteAddr        net.Addr
	acceptedAt        time.Time
	handshakeDuration time.Duration
	log               *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	sessMu sync.Mutex
	sess   *session.ServerSession

	outboundQueue chan []byte

	onPublish func(app, name, pubType string) error
	onPlay    func(app, name string, start, duration float64, reset bool) error
	onPause   func(paused bool, ms float64) error
	onSeek    func(ms float64) error
	onAudio   func(payload []byte, timestamp uint32)
	onVideo   func(payload []byte, timestamp uint32)
	onErrorFn func(err error)
}

// ID returns the logical connection id.
func (c *Connection) ID() string { return c.id }

// NetConn exposes the underlying net.Conn (read-only usage expected by higher layers).
func (c *Connection) NetConn() net.Conn { return c.netConn }

// HandshakeDuration returns how long the RTMP handshake took.
func (c *Connection) HandshakeDuration() time.Duration { return c.handshakeDuration }

// StreamID returns the message stream id allocated by the most recent
// createStream command.
func (c *Connection) StreamID() uint32 {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	return c.sess.StreamID()
}

// Close closes the underlying connection and waits for the read/write loops
// (if started) to exit.
func (c *Connection) Close() error {
	if c.cancel != nil {
		c.cancel()
	}
	_ = c.netConn.Close()
	c.wg.Wait()
	return nil
}

// SetPublishHandler installs the callback invoked once a publish command has
// been fully parsed. MUST be called before Start().
func (c *Connection) SetPublishHandler(fn func(app, name, pubType string) error) {
	c.onPublish = fn
}

// SetPlayHandler installs the callback invoked once a play command has been
// fully parsed. MUST be called before Start().
func (c *Connection) SetPlayHandler(fn func(app, name string, start, duration float64, reset bool) error) {
	c.onPlay = fn
}

// SetPauseHandler installs the pause command callback.
func (c *Connection) SetPauseHandler(fn func(paused bool, ms float64) error) { c.onPause = fn }

// SetSeekHandler installs the seek command callback.
func (c *Connection) SetSeekHandler(fn func(ms float64) error) { c.onSeek = fn }

// SetAudioHandler installs the callback receiving reassembled audio payloads.
func (c *Connection) SetAudioHandler(fn func(payload []byte, timestamp uint32)) { c.onAudio = fn }

// SetVideoHandler installs the callback receiving reassembled video payloads.
func (c *Connection) SetVideoHandler(fn func(payload []byte, timestamp uint32)) { c.onVideo = fn }

// SetErrorHandler installs the callback invoked when the session reports a
// fatal protocol error.
func (c *Connection) SetErrorHandler(fn func(err error)) { c.onErrorFn = fn }

// SetConnectHandler installs the connect-command observer (app, tcUrl); it is
// additive to the External Interface, mirrored from session.ServerSession.OnConnect.
func (c *Connection) SetConnectHandler(fn func(app, tcURL string)) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	c.sess.OnConnect = fn
}

// SetDeleteStreamHandler installs the deleteStream observer.
func (c *Connection) SetDeleteStreamHandler(fn func(publishStreamKey, playStreamKey string)) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	c.sess.OnDeleteStream = fn
}

// SetReceiveAudioHandler installs the receiveAudio toggle observer.
func (c *Connection) SetReceiveAudioHandler(fn func(enable bool)) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	c.sess.OnReceiveAudioChange = fn
}

// SetReceiveVideoHandler installs the receiveVideo toggle observer.
func (c *Connection) SetReceiveVideoHandler(fn func(enable bool)) {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	c.sess.OnReceiveVideoChange = fn
}

// Send implements session.Handler by queueing one encoded chunk (or
// handshake packet) for the write loop. Called synchronously from within
// whichever goroutine currently holds sessMu (the read loop's Input, or a
// broadcaster's SendMessage).
func (c *Connection) Send(data []byte) error {
	if c.ctx.Err() != nil {
		return context.Canceled
	}
	timer := time.NewTimer(200 * time.Millisecond)
	defer timer.Stop()
	select {
	case <-c.ctx.Done():
		return context.Canceled
	case c.outboundQueue <- data:
		return nil
	case <-timer.C:
		return fmt.Errorf("send queue full (len=%d)", len(c.outboundQueue))
	}
}

// OnError implements session.Handler.
func (c *Connection) OnError(err error) {
	c.log.Error("session error", "error", err)
	if c.onErrorFn != nil {
		c.onErrorFn(err)
	}
}

// OnPublish implements session.Handler.
func (c *Connection) OnPublish(app, name, pubType string) error {
	if c.onPublish == nil {
		return nil
	}
	return c.onPublish(app, name, pubType)
}

// OnPlay implements session.Handler.
func (c *Connection) OnPlay(app, name string, start, duration float64, reset bool) error {
	if c.onPlay == nil {
		return nil
	}
	return c.onPlay(app, name, start, duration, reset)
}

// OnPause implements session.Handler.
func (c *Connection) OnPause(paused bool, ms float64) error {
	if c.onPause == nil {
		return nil
	}
	return c.onPause(paused, ms)
}

// OnSeek implements session.Handler.
func (c *Connection) OnSeek(ms float64) error {
	if c.onSeek == nil {
		return nil
	}
	return c.onSeek(ms)
}

// OnAudio implements session.Handler.
func (c *Connection) OnAudio(payload []byte, timestamp uint32) {
	if c.onAudio != nil {
		c.onAudio(payload, timestamp)
	}
}

// OnVideo implements session.Handler.
func (c *Connection) OnVideo(payload []byte, timestamp uint32) {
	if c.onVideo != nil {
		c.onVideo(payload, timestamp)
	}
}

// SendMessage forwards a raw chunk message to the peer, preserving its CSID/
// timestamp/message stream id. Used by the registry to fan a publisher's
// message out to subscribers, and by command_integration.go's command reply
// paths that still build their own *chunk.Message.
func (c *Connection) SendMessage(msg *chunk.Message) error {
	c.sessMu.Lock()
	defer c.sessMu.Unlock()
	if c.sess == nil {
		return errors.New("connection not initialized")
	}
	return c.sess.SendMessage(msg)
}

// writeLoop drains outboundQueue onto the wire. Single consumer: Writer's
// fragmentation output already arrives pre-chunked and ordered via Send.
func (c *Connection) writeLoop() {
	defer c.wg.Done()
	c.log.Debug("writeLoop started")
	for {
		select {
		case <-c.ctx.Done():
			return
		case data, ok := <-c.outboundQueue:
			if !ok {
				return
			}
			if _, err := c.netConn.Write(data); err != nil {
				c.log.Error("writeLoop write failed", "error", err)
				return
			}
		}
	}
}

// readLoop feeds inbound bytes to the session, guarded by sessMu so it never
// races a broadcaster's concurrent SendMessage call.
func (c *Connection) readLoop() {
	defer c.wg.Done()
	buf := make([]byte, 4096)
	c.log.Debug("readLoop started")
	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}
		n, err := c.netConn.Read(buf)
		if n > 0 {
			c.sessMu.Lock()
			ierr := c.sess.Input(buf[:n])
			c.sessMu.Unlock()
			if ierr != nil {
				c.log.Error("session input error", "error", ierr)
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, context.Canceled) {
				c.log.Debug("readLoop closed", "error", err)
			} else {
				c.log.Error("readLoop error", "error", err)
			}
			return
		}
	}
}

// Start begins the read and write loops. MUST be called after the On*Handler
// setters to avoid a race between the first streamed command and handler
// installation.
func (c *Connection) Start() {
	c.wg.Add(2)
	go c.writeLoop()
	go c.readLoop()
}

var connCounter uint64

// nextID generates a simple monotonically increasing connection identifier.
func nextID() string { return fmt.Sprintf("c%06d", atomic.AddUint64(&connCounter, 1)) }

// Accept performs a blocking Accept() on the provided listener, then drives
// the server-side RTMP handshake synchronously by feeding raw reads into a
// new session.ServerSession until it reports HandshakeComplete. The control
// burst (WindowAckSize/SetPeerBandwidth/SetChunkSize) is sent by the session
// itself as the handshake completes. On failure the underlying net.Conn is
// closed and the error returned.
//
// This function is intentionally synchronous; a typical server will wrap it
// inside an accept loop and launch a goroutine per successful connection.
func Accept(l net.Listener) (*Connection, error) {
	if l == nil {
		return nil, fmt.Errorf("nil listener")
	}
	raw, err := l.Accept()
	if err != nil {
		return nil, err
	}

	id := nextID()
	lgr := logger.WithConn(logger.Logger(), id, raw.RemoteAddr().String())

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:            id,
		netConn:       raw,
		remoteAddr:    raw.RemoteAddr(),
		acceptedAt:    time.Now(),
		log:           lgr,
		ctx:           ctx,
		cancel:        cancel,
		outboundQueue: make(chan []byte, 100),
	}
	c.sess = session.NewServerSession(c)

	start := time.Now()
	buf := make([]byte, 4096)
	for !c.sess.HandshakeComplete() {
		n, rerr := raw.Read(buf)
		if n > 0 {
			if ierr := c.sess.Input(buf[:n]); ierr != nil {
				_ = raw.Close()
				lgr.Error("handshake failed", "error", ierr)
				return nil, ierr
			}
			// writeLoop is not running yet: flush handshake replies and the
			// control burst queued by the session directly to the socket.
			for drained := false; !drained; {
				select {
				case data := <-c.outboundQueue:
					if _, werr := raw.Write(data); werr != nil {
						_ = raw.Close()
						lgr.Error("handshake failed", "error", werr)
						return nil, werr
					}
				default:
					drained = true
				}
			}
		}
		if rerr != nil {
			_ = raw.Close()
			lgr.Error("handshake failed", "error", rerr)
			return nil, rerr
		}
	}
	c.handshakeDuration = time.Since(start)
	lgr.Info("connection accepted", "handshake_ms", c.handshakeDuration.Milliseconds())

	return c, nil
}
