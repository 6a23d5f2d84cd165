package rpc

// receiveAudio / receiveVideo commands gate whether the server should keep
// forwarding audio or video frames to this subscriber. Neither produces a
// reply. Spec form: ["receiveAudio", 0, null, enable:boolean] (symmetric for
// receiveVideo).

import (
	"fmt"

	"github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

type ReceiveAudioCommand struct{ Enable bool }
type ReceiveVideoCommand struct{ Enable bool }

func parseBoolCommand(name string, msg *chunk.Message) (bool, error) {
	if msg == nil {
		return false, errors.NewProtocolError(name+".parse", fmt.Errorf("nil message"))
	}
	if msg.TypeID != commandMessageAMF0TypeID {
		return false, errors.NewProtocolError(name+".parse", fmt.Errorf("unexpected message type %d", msg.TypeID))
	}
	vals, err := amf.DecodeAll(msg.Payload)
	if err != nil {
		return false, errors.NewProtocolError(name+".parse.decode", err)
	}
	if len(vals) < 4 {
		return false, errors.NewProtocolError(name+".parse", fmt.Errorf("expected >=4 AMF values, got %d", len(vals)))
	}
	enable, ok := vals[3].(bool)
	if !ok {
		return false, errors.NewProtocolError(name+".parse", fmt.Errorf("enable flag missing or not boolean"))
	}
	return enable, nil
}

// ParseReceiveAudioCommand parses an AMF0 "receiveAudio" command message.
func ParseReceiveAudioCommand(msg *chunk.Message) (*ReceiveAudioCommand, error) {
	enable, err := parseBoolCommand("receiveAudio", msg)
	if err != nil {
		return nil, err
	}
	return &ReceiveAudioCommand{Enable: enable}, nil
}

// ParseReceiveVideoCommand parses an AMF0 "receiveVideo" command message.
func ParseReceiveVideoCommand(msg *chunk.Message) (*ReceiveVideoCommand, error) {
	enable, err := parseBoolCommand("receiveVideo", msg)
	if err != nil {
		return nil, err
	}
	return &ReceiveVideoCommand{Enable: enable}, nil
}
