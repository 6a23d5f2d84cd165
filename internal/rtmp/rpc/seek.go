package rpc

// SeekCommand represents a parsed "seek" command.
// Spec form: ["seek", 0, null, milliSeconds:number]

import (
	"fmt"

	"github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

type SeekCommand struct {
	MilliSeconds int64
}

// ParseSeekCommand parses an AMF0 "seek" command message.
func ParseSeekCommand(msg *chunk.Message) (*SeekCommand, error) {
	if msg == nil {
		return nil, errors.NewProtocolError("seek.parse", fmt.Errorf("nil message"))
	}
	if msg.TypeID != commandMessageAMF0TypeID {
		return nil, errors.NewProtocolError("seek.parse", fmt.Errorf("unexpected message type %d", msg.TypeID))
	}
	vals, err := amf.DecodeAll(msg.Payload)
	if err != nil {
		return nil, errors.NewProtocolError("seek.parse.decode", err)
	}
	if len(vals) < 4 {
		return nil, errors.NewProtocolError("seek.parse", fmt.Errorf("expected >=4 AMF values, got %d", len(vals)))
	}
	ms, _ := vals[3].(float64)
	return &SeekCommand{MilliSeconds: int64(ms)}, nil
}
