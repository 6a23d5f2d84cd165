package session

// Timestamp+random packet construction shared by the server and client
// session handshake phases. Mirrors internal/rtmp/handshake's blocking
// ServerHandshake/ClientHandshake packet layout (4-byte time, 4-byte zero,
// 1528-byte random) but produces the bytes without performing any I/O, so
// the push-style sessions can hand them to Handler.Send themselves.

import (
	"crypto/rand"
	"time"

	"github.com/alxayo/go-rtmp/internal/rtmp/handshake"
)

// newTimePacket builds a PacketSize-byte C1/S1 body: timestamp, zero, random.
func newTimePacket() ([]byte, error) {
	buf := make([]byte, handshake.PacketSize)
	ts := uint32(time.Now().UnixMilli() & 0xFFFFFFFF)
	buf[0] = byte(ts >> 24)
	buf[1] = byte(ts >> 16)
	buf[2] = byte(ts >> 8)
	buf[3] = byte(ts)
	if _, err := rand.Read(buf[8:]); err != nil {
		return nil, err
	}
	return buf, nil
}
