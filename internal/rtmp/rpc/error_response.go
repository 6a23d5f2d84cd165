package rpc

// _error command reply, used when a request cannot be serviced (bad publish
// name, rejected connect, etc). Spec form: ["_error", transactionID, null, infoObject]

import (
	"fmt"

	"github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

// BuildErrorResponse constructs an "_error" reply for the given transaction.
func BuildErrorResponse(transactionID float64, code, description string) (*chunk.Message, error) {
	info := map[string]interface{}{
		"level":       "error",
		"code":        code,
		"description": description,
	}
	payload, err := amf.EncodeAll("_error", transactionID, nil, info)
	if err != nil {
		return nil, errors.NewProtocolError("error.response.encode", fmt.Errorf("amf encode: %w", err))
	}
	return &chunk.Message{
		CSID:            invokeCSID,
		TypeID:          commandMessageAMF0TypeID,
		MessageStreamID: 0,
		Payload:         payload,
		MessageLength:   uint32(len(payload)),
	}, nil
}
