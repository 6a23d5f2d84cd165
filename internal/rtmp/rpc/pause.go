package rpc

// PauseCommand represents a parsed "pause" command.
// Spec form: ["pause", 0, null, pause:boolean, milliSeconds:number]

import (
	"fmt"

	"github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

type PauseCommand struct {
	Pause        bool
	MilliSeconds int64
}

// ParsePauseCommand parses an AMF0 "pause" command message.
func ParsePauseCommand(msg *chunk.Message) (*PauseCommand, error) {
	if msg == nil {
		return nil, errors.NewProtocolError("pause.parse", fmt.Errorf("nil message"))
	}
	if msg.TypeID != commandMessageAMF0TypeID {
		return nil, errors.NewProtocolError("pause.parse", fmt.Errorf("unexpected message type %d", msg.TypeID))
	}
	vals, err := amf.DecodeAll(msg.Payload)
	if err != nil {
		return nil, errors.NewProtocolError("pause.parse.decode", err)
	}
	if len(vals) < 4 {
		return nil, errors.NewProtocolError("pause.parse", fmt.Errorf("expected >=4 AMF values, got %d", len(vals)))
	}
	pause, _ := vals[3].(bool)
	pc := &PauseCommand{Pause: pause}
	if len(vals) >= 5 {
		if ms, ok := vals[4].(float64); ok {
			pc.MilliSeconds = int64(ms)
		}
	}
	return pc, nil
}
