package media

// FLV container helpers shared by the file recorder and the websocket debug
// relay (internal/wsflv): both need the same 13-byte header and 11-byte tag
// framing, just writing it to a different sink.

import (
	"encoding/binary"
	"fmt"
)

// FLVHeader returns the fixed 13-byte FLV header (signature + version + audio/video
// flags + header length + PreviousTagSize0), always advertising both audio and video.
func FLVHeader() []byte {
	return []byte{'F', 'L', 'V', 0x01, 0x05, 0x00, 0x00, 0x00, 0x09, 0x00, 0x00, 0x00, 0x00}
}

// EncodeFLVTag builds a single FLV tag (11-byte tag header + payload + 4-byte
// PreviousTagSize) ready to append to an FLV byte stream.
func EncodeFLVTag(tagType uint8, timestamp uint32, payload []byte) ([]byte, error) {
	dataSize := len(payload)
	if dataSize > 0xFFFFFF {
		return nil, fmt.Errorf("flv.tag: payload too large: %d", dataSize)
	}
	out := make([]byte, 11+dataSize+4)
	out[0] = tagType
	out[1] = byte(dataSize >> 16)
	out[2] = byte(dataSize >> 8)
	out[3] = byte(dataSize)
	out[4] = byte(timestamp >> 16)
	out[5] = byte(timestamp >> 8)
	out[6] = byte(timestamp)
	out[7] = byte(timestamp >> 24)
	// bytes 8-10 (StreamID) already zero
	copy(out[11:11+dataSize], payload)
	binary.BigEndian.PutUint32(out[11+dataSize:], uint32(11+dataSize))
	return out, nil
}
