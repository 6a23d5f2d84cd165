package client

// Minimal RTMP client used by the relay's outbound destinations and by
// integration tests to drive the server as a real network peer. It wraps
// internal/rtmp/session.ClientSession: dialing, handshake byte plumbing and
// command sequencing are owned by the session, this file only adapts a
// net.Conn to the session's push-style Input/Send contract and turns its
// asynchronous result callbacks (OnConnectResult, OnCreateStreamResult) into
// the blocking Connect() a caller expects.
//
// Non-Goals (for now): full error command responses beyond connect/
// createStream, bandwidth renegotiation on the client side, AMF3.

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/alxayo/go-rtmp/internal/rtmp/session"
)

// DialTimeout used for TCP connections.
const DialTimeout = 5 * time.Second

// resultWait bounds how long Connect() waits for the peer's _result/_error
// reply to connect/createStream once the handshake has completed.
const resultWait = 5 * time.Second

// Client is a minimal RTMP client instance backed by a session.ClientSession.
type Client struct {
	rawURL string
	app    string
	stream string

	conn net.Conn
	sess *session.ClientSession

	mu     sync.Mutex // serializes all access to sess and conn
	ctx    context.Context
	cancel context.CancelFunc

	ready              chan struct{}
	connectResult      chan error
	createStreamResult chan error
}

// New creates a new Client (not yet connected).
func New(rawurl string) (*Client, error) {
	if !strings.HasPrefix(rawurl, "rtmp://") {
		return nil, fmt.Errorf("url must start with rtmp://")
	}
	u, err := url.Parse(rawurl)
	if err != nil {
		return nil, err
	}
	// Path expected: /app/streamName
	parts := strings.Split(strings.TrimPrefix(u.Path, "/"), "/")
	if len(parts) < 2 {
		return nil, fmt.Errorf("rtmp url must be rtmp://host/app/stream")
	}
	app := parts[0]
	stream := strings.Join(parts[1:], "/")
	return &Client{
		rawURL:             rawurl,
		app:                app,
		stream:             stream,
		ready:              make(chan struct{}, 1),
		connectResult:      make(chan error, 1),
		createStreamResult: make(chan error, 1),
	}, nil
}

// Send implements session.ClientHandler by writing to the dialed net.Conn.
// Called synchronously while c.mu is held by the caller (Connect's handshake
// kickoff, or the read loop driving Input).
func (c *Client) Send(data []byte) error {
	_, err := c.conn.Write(data)
	return err
}

// OnError implements session.ClientHandler.
func (c *Client) OnError(err error) {
	select {
	case c.connectResult <- err:
	default:
	}
}

// OnConnectResult implements session.ClientHandler.
func (c *Client) OnConnectResult(success bool, description string) {
	var err error
	if !success {
		err = fmt.Errorf("connect failed: %s", description)
	}
	select {
	case c.connectResult <- err:
	default:
	}
}

// OnCreateStreamResult implements session.ClientHandler.
func (c *Client) OnCreateStreamResult(streamID uint32, success bool) {
	var err error
	if !success {
		err = fmt.Errorf("createStream failed")
	}
	select {
	case c.createStreamResult <- err:
	default:
	}
}

// OnStatus implements session.ClientHandler; publish/play status replies are
// informational only for this minimal client.
func (c *Client) OnStatus(code, description string) {}

// OnAudio/OnVideo implement session.ClientHandler for the Play() path; this
// client does not currently expose received media to callers.
func (c *Client) OnAudio(payload []byte, timestamp uint32) {}
func (c *Client) OnVideo(payload []byte, timestamp uint32) {}

// Connect performs TCP dial, RTMP handshake, then connect + createStream,
// blocking until both commands have a reply or resultWait elapses.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.conn != nil {
		c.mu.Unlock()
		return nil
	}
	u, err := url.Parse(c.rawURL)
	if err != nil {
		c.mu.Unlock()
		return err
	}
	host := u.Host
	if !strings.Contains(host, ":") {
		host = host + ":1935"
	}
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.Dial("tcp", host)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("dial: %w", err)
	}
	c.conn = conn
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.sess = session.NewClientSession(c)
	c.sess.OnReady = func() {
		select {
		case c.ready <- struct{}{}:
		default:
		}
	}
	c.mu.Unlock()

	c.startReadLoop()

	if err := c.waitReady(); err != nil {
		return err
	}

	c.mu.Lock()
	err = c.sess.Connect(c.app, c.rawURL)
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("send connect: %w", err)
	}
	if err := c.waitConnectResult(); err != nil {
		return fmt.Errorf("connect response: %w", err)
	}

	c.mu.Lock()
	err = c.sess.CreateStream()
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("send createStream: %w", err)
	}
	if err := c.waitCreateStreamResult(); err != nil {
		return fmt.Errorf("createStream response: %w", err)
	}
	return nil
}

func (c *Client) startReadLoop() {
	go func() {
		buf := make([]byte, 4096)
		for {
			select {
			case <-c.ctx.Done():
				return
			default:
			}
			n, err := c.conn.Read(buf)
			if n > 0 {
				c.mu.Lock()
				ierr := c.sess.Input(buf[:n])
				c.mu.Unlock()
				if ierr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
}

func (c *Client) waitReady() error {
	select {
	case <-c.ready:
		return nil
	case <-time.After(resultWait):
		return errors.New("handshake timeout")
	}
}

func (c *Client) waitConnectResult() error {
	select {
	case err := <-c.connectResult:
		return err
	case <-time.After(resultWait):
		return errors.New("timed out waiting for connect response")
	}
}

func (c *Client) waitCreateStreamResult() error {
	select {
	case err := <-c.createStreamResult:
		return err
	case <-time.After(resultWait):
		return errors.New("timed out waiting for createStream response")
	}
}

// Publish sends a publish command for the stream name implied by the RTMP URL.
func (c *Client) Publish() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return errors.New("client not connected")
	}
	return c.sess.Publish(c.stream, "live")
}

// Play sends a play command for the stream name.
func (c *Client) Play() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return errors.New("client not connected")
	}
	return c.sess.Play(c.stream, -2, -1)
}

// SendAudio sends a raw audio message (TypeID=8) with caller-provided payload.
func (c *Client) SendAudio(ts uint32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return errors.New("client not connected")
	}
	if len(data) == 0 {
		return errors.New("empty audio payload")
	}
	if err := c.sess.SendAudio(data, ts); err != nil {
		return fmt.Errorf("write audio message: %w", err)
	}
	return nil
}

// SendVideo sends a raw video message (TypeID=9) with caller-provided payload.
func (c *Client) SendVideo(ts uint32, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return errors.New("client not connected")
	}
	if len(data) == 0 {
		return errors.New("empty video payload")
	}
	if err := c.sess.SendVideo(data, ts); err != nil {
		return fmt.Errorf("write video message: %w", err)
	}
	return nil
}

// Close terminates the underlying TCP connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	err := c.conn.Close()
	c.conn = nil
	c.sess = nil
	return err
}

// RunCLI executes a simplified publish / play action based on args.
// Usage examples:
//
//	rtmp-client publish rtmp://host/app/stream file.flv
//
// For now we only implement the connect + publish handshake; file muxing
// is out of current scope – we simulate by sending a single dummy audio tag.
func RunCLI(args []string, stdout io.Writer) int {
	if len(args) < 3 {
		fmt.Fprintln(stdout, "usage: rtmp-client <publish|play> rtmp://host/app/stream [file]")
		return 2
	}
	mode := args[0]
	rawurl := args[1]
	c, err := New(rawurl)
	if err != nil {
		fmt.Fprintln(stdout, "error:", err)
		return 1
	}
	if err := c.Connect(); err != nil {
		fmt.Fprintln(stdout, "connect error:", err)
		return 1
	}
	switch mode {
	case "publish":
		if err := c.Publish(); err != nil {
			fmt.Fprintln(stdout, "publish error:", err)
			return 1
		}
		// send one dummy audio packet (AAC sequence header-ish)
		_ = c.SendAudio(0, []byte{0xAF, 0x00})
		fmt.Fprintln(stdout, "published", c.app+"/"+c.stream)
	case "play":
		if err := c.Play(); err != nil {
			fmt.Fprintln(stdout, "play error:", err)
			return 1
		}
		fmt.Fprintln(stdout, "play requested", c.app+"/"+c.stream)
	default:
		fmt.Fprintln(stdout, "unknown mode", mode)
		return 2
	}
	_ = c.Close()
	return 0
}
