package rpc

// onStatus builders shared by publish/play/pause/seek handlers.
//
// Spec form: ["onStatus", 0, null, infoObject]
// infoObject carries level/code/description plus the stream key as
// "details"; no other fields are added.

import (
	"fmt"

	"github.com/alxayo/go-rtmp/internal/errors"
	"github.com/alxayo/go-rtmp/internal/rtmp/amf"
	"github.com/alxayo/go-rtmp/internal/rtmp/chunk"
)

// Status codes used across the server-role command handlers.
const (
	StatusConnectSuccess       = "NetConnection.Connect.Success"
	StatusConnectRejected      = "NetConnection.Connect.Rejected"
	StatusPublishStart         = "NetStream.Publish.Start"
	StatusPublishBadName       = "NetStream.Publish.BadName"
	StatusPlayStart            = "NetStream.Play.Start"
	StatusPlayStreamNotFound   = "NetStream.Play.StreamNotFound"
	StatusPlayReset            = "NetStream.Play.Reset"
	StatusPauseNotify          = "NetStream.Pause.Notify"
	StatusUnpauseNotify        = "NetStream.Unpause.Notify"
	StatusSeekNotify           = "NetStream.Seek.Notify"
	StatusDeleteStreamSuccess  = "NetStream.DeleteStream.Suceess" // sic: matches the wire value real FMS/nginx-rtmp servers send
)

// BuildOnStatus constructs an onStatus command message (type 20) carrying the
// given level/code/description plus the full stream key as the "details" field.
func BuildOnStatus(streamID uint32, streamKey, code, description string) (*chunk.Message, error) {
	info := map[string]interface{}{
		"level":       "status",
		"code":        code,
		"description": description,
		"details":     streamKey,
	}
	payload, err := amf.EncodeAll("onStatus", float64(0), nil, info)
	if err != nil {
		return nil, errors.NewProtocolError("status.build.encode", fmt.Errorf("amf encode: %w", err))
	}
	return &chunk.Message{
		CSID:            5,
		TypeID:          commandMessageAMF0TypeID,
		MessageStreamID: streamID,
		MessageLength:   uint32(len(payload)),
		Payload:         payload,
	}, nil
}
