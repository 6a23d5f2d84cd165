// Package session implements the push-style RTMP engine: a session owns no
// transport of its own. A caller feeds inbound bytes to Input, in pieces of
// any size, and the session synchronously drives the handshake and chunk
// state machines, invoking Handler callbacks before Input returns. Outbound
// bytes are handed to Handler.Send as they are produced. This keeps the
// engine usable behind a net.Conn, a WebSocket, or a test harness alike.
//
// Not safe for concurrent use, and callbacks must never call back into
// Input on the same session (see the reference embedding in internal/rtmp/conn
// for how a consumer serializes reads and writes around that boundary).
package session

// Handler receives events from a ServerSession and supplies its outbound
// byte sink. All methods are invoked synchronously from within Input (or
// from the Send* methods, for the immediate write-failure path).
type Handler interface {
	// Send delivers one contiguous blob of outbound bytes (a handshake
	// packet or a single chunk) to the transport. Called synchronously.
	Send(data []byte) error

	// OnError reports a non-fatal, per-command failure (e.g. a malformed
	// publish command) after the session has already replied with an
	// _error/onStatus where applicable. Fatal errors are returned from
	// Input directly and are not also reported here.
	OnError(err error)

	// OnPublish is invoked once a publish command is fully parsed. A
	// non-nil return suppresses the success onStatus in favor of an
	// error status built from the returned error's message.
	OnPublish(app, name, pubType string) error

	// OnPlay is invoked once a play command is fully parsed. Same
	// error-suppression contract as OnPublish.
	OnPlay(app, name string, start, duration float64, reset bool) error

	// OnPause is invoked on a pause command; paused reports the
	// requested state and ms the client-reported stream position.
	OnPause(paused bool, ms float64) error

	// OnSeek is invoked on a seek command.
	OnSeek(ms float64) error

	// OnAudio delivers a reassembled audio message (type id 8) payload
	// and its message timestamp.
	OnAudio(payload []byte, timestamp uint32)

	// OnVideo delivers a reassembled video message (type id 9) payload
	// and its message timestamp.
	OnVideo(payload []byte, timestamp uint32)
}

// ClientHandler receives events from a ClientSession.
type ClientHandler interface {
	// Send delivers one contiguous blob of outbound bytes to the transport.
	Send(data []byte) error

	// OnError reports a fatal or per-command failure; see Handler.OnError.
	OnError(err error)

	// OnConnectResult reports the outcome of a connect command: success
	// reflects whether the peer replied with _result (true) or _error/no
	// usable reply (false); description carries the peer's message.
	OnConnectResult(success bool, description string)

	// OnCreateStreamResult reports the stream id allocated by the peer in
	// response to createStream.
	OnCreateStreamResult(streamID uint32, success bool)

	// OnStatus reports an onStatus notification from the peer (publish
	// start, play start, stream not found, etc).
	OnStatus(code, description string)

	// OnAudio/OnVideo mirror Handler's media callbacks, used when the
	// client session is itself receiving a played stream.
	OnAudio(payload []byte, timestamp uint32)
	OnVideo(payload []byte, timestamp uint32)
}
