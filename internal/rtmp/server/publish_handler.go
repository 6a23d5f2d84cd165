package server

// Publish Handler
// ---------------------------
// Registers a publisher connection in the stream registry. Command parsing
// and the onStatus NetStream.Publish.Start/BadName reply are owned by
// internal/rtmp/session.ServerSession (see command_integration.go's
// SetPublishHandler), so this file is pure registry bookkeeping, callable
// straight from the session.Handler.OnPublish callback.

import (
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

// sender is the minimal interface required from a connection for this task.
// *conn.Connection satisfies it. We keep it tiny so tests can use a stub.
type sender interface {
	SendMessage(*chunk.Message) error
}

// HandlePublish registers conn as the publisher of app+"/"+name, creating the
// stream if necessary. Returns ErrPublisherExists if the stream
// already has a publisher.
func HandlePublish(reg *Registry, conn sender, app, name string) (streamKey string, err error) {
	streamKey = app + "/" + name
	if reg == nil || conn == nil {
		return streamKey, ErrPublisherExists
	}
	stream, _ := reg.CreateStream(streamKey)
	if err := stream.SetPublisher(conn); err != nil {
		return streamKey, err
	}
	return streamKey, nil
}

// PublisherDisconnected clears the publisher from the stream if it matches
// the provided connection.
func PublisherDisconnected(reg *Registry, streamKey string, pub sender) {
	if reg == nil || streamKey == "" || pub == nil {
		return
	}
	s := reg.GetStream(streamKey)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.Publisher == pub {
		s.Publisher = nil
	}
	s.mu.Unlock()
}
