package server

// avFilter wraps a play subscriber so receiveAudio/receiveVideo can mute one
// leg of the media stream without tearing down the subscription itself.
// Everything still flows through the registry's normal broadcast path; the
// filter just drops the gated message type before it reaches the connection.

import (
	"sync/atomic"

	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
	"github.com/alxayo/go-rtmp/internal/rtmp/media"
)

type avFilter struct {
	underlying media.Subscriber
	sendAudio  atomic.Bool
	sendVideo  atomic.Bool
}

func newAVFilter(underlying media.Subscriber) *avFilter {
	f := &avFilter{underlying: underlying}
	f.sendAudio.Store(true)
	f.sendVideo.Store(true)
	return f
}

func (f *avFilter) muted(msg *chunk.Message) bool {
	if msg == nil {
		return false
	}
	switch msg.TypeID {
	case 8:
		return !f.sendAudio.Load()
	case 9:
		return !f.sendVideo.Load()
	default:
		return false
	}
}

// SendMessage implements media.Subscriber.
func (f *avFilter) SendMessage(msg *chunk.Message) error {
	if f.muted(msg) {
		return nil
	}
	return f.underlying.SendMessage(msg)
}

// TrySendMessage implements media.TrySendMessage, delegating to the
// underlying connection when it supports non-blocking sends.
func (f *avFilter) TrySendMessage(msg *chunk.Message) bool {
	if f.muted(msg) {
		return true
	}
	if ts, ok := f.underlying.(media.TrySendMessage); ok {
		return ts.TrySendMessage(msg)
	}
	return f.underlying.SendMessage(msg) == nil
}

// Underlying returns the wrapped connection, used to match subscribers back
// to their connection for removal and for receiveAudio/receiveVideo toggling.
func (f *avFilter) Underlying() media.Subscriber { return f.underlying }

func (f *avFilter) SetSendAudio(v bool) { f.sendAudio.Store(v) }
func (f *avFilter) SetSendVideo(v bool) { f.sendVideo.Store(v) }
