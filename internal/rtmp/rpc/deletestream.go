package rpc

// DeleteStreamCommand represents a parsed "deleteStream" command.
// Spec form: ["deleteStream", 0, null, streamID:number]. No reply is sent.

import (
	"fmt"

	"github.com/alxayo/go-rtmp/internal/errors"
)

type DeleteStreamCommand struct {
	StreamID uint32
}

// ParseDeleteStreamCommand extracts the target stream id from the already
// AMF0-decoded command values (the dispatcher decodes once and hands every
// handler the same slice, so deleteStream reuses that rather than decoding
// again).
func ParseDeleteStreamCommand(values []interface{}) (*DeleteStreamCommand, error) {
	if len(values) < 4 {
		return nil, errors.NewProtocolError("deletestream.parse", fmt.Errorf("expected >=4 AMF values, got %d", len(values)))
	}
	id, ok := values[3].(float64)
	if !ok {
		return nil, errors.NewProtocolError("deletestream.parse", fmt.Errorf("streamID missing or not numeric"))
	}
	return &DeleteStreamCommand{StreamID: uint32(id)}, nil
}
