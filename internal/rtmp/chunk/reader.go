package chunk

// Dechunker implementation
// Reassembles RTMP messages from an interleaved stream of chunks, honoring
// per-CSID state, header compression, extended timestamps, and dynamic
// inbound chunk size changes (Set Chunk Size control message, type id 1).
//
// The canonical implementation is PushReader: a resumable state machine that
// consumes arbitrary-sized byte fragments via Input and never blocks on I/O,
// so it can sit directly behind a push-style session (see internal/rtmp/session).
// Reader is a thin io.Reader-driven adapter for callers (currently the tests;
// internal/rtmp/conn drives the session's Input instead) that prefer a
// synchronous "block until next message" call style; it feeds
// PushReader from an internal scratch buffer rather than duplicating any
// parsing logic.
//
// Public contract:
//  NewPushReader(chunkSize) *PushReader; (*PushReader).Input([]byte) error; OnMessage callback.
//  NewReader(r, initialChunkSize) *Reader; (*Reader).ReadMessage() (*Message, error) -- blocking.
//
// Error model:
//  Returns *errors.ChunkError wrapping underlying parse/state issues.
//  io.EOF is passed through only when encountered before starting a new header.

import (
	"encoding/binary"
	"fmt"
	"io"

	protoerr "github.com/alxayo/go-rtmp/internal/errors"
)

// Message represents a fully reassembled RTMP message (post-dechunking).
type Message struct {
	CSID            uint32
	Timestamp       uint32
	MessageLength   uint32
	TypeID          uint8
	MessageStreamID uint32
	Payload         []byte
}

// parserPhase is the chunk reader's explicit state, per the protocol's
// INIT/BASIC_HEADER/MESSAGE_HEADER/EXTENDED_TIMESTAMP/PAYLOAD phases. INIT and
// BASIC_HEADER are merged here (both only accumulate into the basic-header
// span of the staging buffer); the distinction is which byte count is known.
type parserPhase uint8

const (
	phaseBasicHeader parserPhase = iota
	phaseMessageHeader
	phaseExtendedTimestamp
	phasePayload
)

// PushReader is the streaming, non-blocking chunk dechunker. It owns no
// transport: callers feed it bytes via Input as they arrive, in pieces of any
// size (including single bytes), and it invokes OnMessage synchronously,
// before Input returns, once per fully reassembled message. This satisfies
// the "no internal suspension points" contract the embedding session relies on.
//
// Not safe for concurrent use; expected usage is a single session goroutine.
type PushReader struct {
	chunkSize  uint32
	states     map[uint32]*ChunkStreamState
	prevHeader map[uint32]*ChunkHeader

	// OnMessage is invoked once per reassembled message. A non-nil error
	// aborts Input for the remainder of its buffer and is returned to the
	// caller; the reader must not be reused afterward.
	OnMessage func(*Message) error

	phase      parserPhase
	staging    [18]byte // basic(<=3) + message header(<=11) + extended timestamp(4)
	stagingLen int
	basicLen   int
	fmtVal     uint8
	csid       uint32
	curHeader  *ChunkHeader
	curState   *ChunkStreamState
}

// NewPushReader creates a dechunker with the given initial inbound chunk size
// (spec default 128 if zero).
func NewPushReader(chunkSize uint32) *PushReader {
	if chunkSize == 0 {
		chunkSize = 128
	}
	return &PushReader{
		chunkSize:  chunkSize,
		states:     make(map[uint32]*ChunkStreamState),
		prevHeader: make(map[uint32]*ChunkHeader),
	}
}

// SetChunkSize overrides the inbound chunk size. Safe to call at any time;
// only affects chunk-boundary arithmetic for bytes fed after the call.
func (r *PushReader) SetChunkSize(size uint32) {
	if size >= 1 && size <= 0x7FFFFFFF {
		r.chunkSize = size
	}
}

// ChunkSize returns the current inbound chunk size.
func (r *PushReader) ChunkSize() uint32 { return r.chunkSize }

// Input feeds a fragment of the inbound byte stream into the parser. It may
// invoke OnMessage any number of times before returning. Partial chunks are
// remembered across calls; Input never blocks and never reads beyond data.
func (r *PushReader) Input(data []byte) error {
	pos := 0
	for pos < len(data) {
		switch r.phase {
		case phaseBasicHeader:
			if err := r.fillBasicHeader(data, &pos); err != nil {
				return err
			}
		case phaseMessageHeader:
			if err := r.fillMessageHeader(data, &pos); err != nil {
				return err
			}
		case phaseExtendedTimestamp:
			if err := r.fillExtendedTimestamp(data, &pos); err != nil {
				return err
			}
		case phasePayload:
			if err := r.consumePayload(data, &pos); err != nil {
				return err
			}
		}
	}
	return nil
}

func (r *PushReader) fillBasicHeader(data []byte, pos *int) error {
	if r.stagingLen == 0 {
		r.staging[0] = data[*pos]
		*pos++
		r.stagingLen = 1
		r.basicLen = basicHeaderLen(r.staging[0])
		r.fmtVal = r.staging[0] >> 6
	}
	if r.stagingLen < r.basicLen {
		n := copy(r.staging[r.stagingLen:r.basicLen], data[*pos:])
		*pos += n
		r.stagingLen += n
	}
	if r.stagingLen < r.basicLen {
		return nil // wait for more bytes
	}
	_, r.csid = decodeBasicHeader(r.staging[:r.basicLen])
	r.phase = phaseMessageHeader
	return nil
}

func (r *PushReader) fillMessageHeader(data []byte, pos *int) error {
	mhLen := messageHeaderLen(r.fmtVal)
	total := r.basicLen + mhLen
	if r.stagingLen < total {
		n := copy(r.staging[r.stagingLen:total], data[*pos:])
		*pos += n
		r.stagingLen += n
	}
	if r.stagingLen < total {
		return nil // wait for more bytes
	}

	h := &ChunkHeader{FMT: r.fmtVal, CSID: r.csid}
	var tsField uint32
	if mhLen > 0 {
		tsField = decodeMessageHeader(h, r.staging[r.basicLen:total])
	} else {
		prev := r.prevHeader[r.csid]
		if prev == nil {
			return protoerr.NewChunkError("reader.message_header.fmt3", fmt.Errorf("missing previous header for csid %d", r.csid))
		}
		saved := *prev
		h = &saved
		h.FMT = 3
	}
	switch r.fmtVal {
	case 1:
		if prev := r.prevHeader[r.csid]; prev != nil {
			h.MessageStreamID = prev.MessageStreamID
		}
	case 2:
		if prev := r.prevHeader[r.csid]; prev != nil {
			h.MessageLength = prev.MessageLength
			h.MessageTypeID = prev.MessageTypeID
			h.MessageStreamID = prev.MessageStreamID
		}
	}
	r.curHeader = h

	needExt := false
	if r.fmtVal == 3 {
		needExt = h.HasExtendedTimestamp
	} else {
		needExt = tsField == extendedTimestampMarker
	}
	if needExt {
		r.phase = phaseExtendedTimestamp
		return nil
	}
	return r.finalizeHeader()
}

func (r *PushReader) fillExtendedTimestamp(data []byte, pos *int) error {
	mhLen := messageHeaderLen(r.fmtVal)
	total := r.basicLen + mhLen
	extTotal := total + 4
	if r.stagingLen < extTotal {
		n := copy(r.staging[r.stagingLen:extTotal], data[*pos:])
		*pos += n
		r.stagingLen += n
	}
	if r.stagingLen < extTotal {
		return nil // wait for more bytes
	}
	val := binary.BigEndian.Uint32(r.staging[total:extTotal])
	r.curHeader.HasExtendedTimestamp = true
	r.curHeader.Timestamp = val
	return r.finalizeHeader()
}

// finalizeHeader applies the fully decoded header to its chunk-stream entry
// (allocating the entry on first use) and transitions to PAYLOAD.
func (r *PushReader) finalizeHeader() error {
	st := r.states[r.csid]
	if st == nil {
		st = &ChunkStreamState{}
		r.states[r.csid] = st
	}
	if err := st.ApplyHeader(r.curHeader); err != nil {
		return err
	}
	r.prevHeader[r.csid] = r.curHeader
	r.curState = st
	r.phase = phasePayload
	r.stagingLen = 0
	return nil
}

func (r *PushReader) consumePayload(data []byte, pos *int) error {
	st := r.curState
	avail := len(data) - *pos
	if avail == 0 {
		return nil
	}
	mod := st.bytesReceived % r.chunkSize
	inChunkRemain := r.chunkSize - mod
	msgRemain := st.LastMsgLength - st.bytesReceived

	n := uint32(avail)
	if inChunkRemain < n {
		n = inChunkRemain
	}
	if msgRemain < n {
		n = msgRemain
	}

	if n == 0 && msgRemain == 0 {
		// Zero-length message: complete immediately without consuming bytes.
		complete, msg, err := st.AppendChunkData(nil)
		if err != nil {
			return err
		}
		if complete {
			if err := r.dispatch(msg); err != nil {
				return err
			}
		}
		r.phase = phaseBasicHeader
		r.stagingLen = 0
		return nil
	}

	chunkData := data[*pos : *pos+int(n)]
	*pos += int(n)
	complete, msg, err := st.AppendChunkData(chunkData)
	if err != nil {
		return err
	}
	if complete {
		if err := r.dispatch(msg); err != nil {
			return err
		}
		r.phase = phaseBasicHeader
		r.stagingLen = 0
	} else if st.bytesReceived%r.chunkSize == 0 {
		r.phase = phaseBasicHeader
		r.stagingLen = 0
	}
	return nil
}

// dispatch applies any inline Set Chunk Size control message before handing
// the message to OnMessage.
func (r *PushReader) dispatch(msg *Message) error {
	if msg == nil {
		return nil
	}
	if msg.TypeID == 1 && msg.MessageStreamID == 0 && len(msg.Payload) >= 4 {
		v := binary.BigEndian.Uint32(msg.Payload[:4])
		if v > 0 {
			r.SetChunkSize(v)
		}
	}
	if r.OnMessage != nil {
		return r.OnMessage(msg)
	}
	return nil
}

// -----------------------------------------------------------------------------
// Reader -- a blocking io.Reader-driven adapter over PushReader, for callers
// that prefer "block until the next complete message" semantics (e.g. the
// conn and integration tests that decode server output from a net.Conn).
// -----------------------------------------------------------------------------

// Reader converts a byte stream of RTMP chunks into complete Messages,
// blocking on the underlying io.Reader as needed.
type Reader struct {
	br      io.Reader
	push    *PushReader
	pending []*Message
	scratch []byte
}

// NewReader creates a new dechunker with the provided initial inbound chunk size (spec default 128).
func NewReader(r io.Reader, chunkSize uint32) *Reader {
	rd := &Reader{br: r, scratch: make([]byte, 4096)}
	rd.push = NewPushReader(chunkSize)
	rd.push.OnMessage = func(m *Message) error {
		rd.pending = append(rd.pending, m)
		return nil
	}
	return rd
}

// SetChunkSize overrides the inbound chunk size; safe to call between ReadMessage invocations.
func (r *Reader) SetChunkSize(size uint32) { r.push.SetChunkSize(size) }

// ReadMessage blocks until the next complete RTMP message is reassembled or an error occurs.
// It transparently updates internal chunk size on receiving a Set Chunk Size (type id 1) control message.
func (r *Reader) ReadMessage() (*Message, error) {
	for len(r.pending) == 0 {
		n, err := r.br.Read(r.scratch)
		if n > 0 {
			if ferr := r.push.Input(r.scratch[:n]); ferr != nil {
				return nil, ferr
			}
		}
		if err != nil {
			if len(r.pending) > 0 {
				break
			}
			if err == io.EOF && (r.push.phase != phaseBasicHeader || r.push.stagingLen > 0) {
				return nil, protoerr.NewChunkError("reader.read", io.ErrUnexpectedEOF)
			}
			return nil, err
		}
	}
	msg := r.pending[0]
	r.pending = r.pending[1:]
	return msg, nil
}
