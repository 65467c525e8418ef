// Package wire frames drawing actions for transport over a byte
// stream. A frame is a 4-byte little-endian payload length followed by
// the JSON encoding of one action; the prefix restores the message
// boundaries TCP does not provide.
package wire

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/adwski/sketchwire/model"
)

const (
	headerSize = 4

	// MaxFrameSize caps a single declared payload. Anything larger is
	// treated as stream corruption rather than a message.
	MaxFrameSize = 1 << 20
)

var (
	ErrFraming          = errors.New("stream broke mid-frame")
	ErrFrameTooLarge    = errors.New("frame length exceeds limit")
	ErrMalformedMessage = errors.New("payload is not a drawing action")
	ErrUnknownAction    = errors.New("unknown action op")
)

// Encode renders a full frame (header plus payload) for one action.
func Encode(a model.Action) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	payload, err := json.Marshal(&a)
	if err != nil {
		return nil, errors.Join(ErrMalformedMessage, err)
	}
	if len(payload) > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	frame := make([]byte, headerSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[headerSize:], payload)
	return frame, nil
}

// Decode parses one frame payload (without the length prefix) back
// into an action. An action whose op is not recognized decodes to its
// value together with ErrUnknownAction so callers can skip it without
// tearing the connection down.
func Decode(payload []byte) (model.Action, error) {
	var a model.Action
	if err := json.Unmarshal(payload, &a); err != nil {
		return model.Action{}, errors.Join(ErrMalformedMessage, err)
	}
	switch a.Op {
	case model.OpCreate, model.OpUpdate, model.OpSnapshotRequest:
	default:
		return a, fmt.Errorf("%w: %q", ErrUnknownAction, a.Op)
	}
	if err := a.Validate(); err != nil {
		return model.Action{}, errors.Join(ErrMalformedMessage, err)
	}
	return a, nil
}

// Write encodes and ships one action in a single write call.
func Write(w io.Writer, a model.Action) error {
	frame, err := Encode(a)
	if err != nil {
		return err
	}
	if _, err = w.Write(frame); err != nil {
		return err
	}
	return nil
}

// Reader recovers actions from a continuous byte stream.
type Reader struct {
	r      io.Reader
	header [headerSize]byte
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Read blocks until a complete frame is available and decodes it.
//
// An orderly remote close on a frame boundary surfaces as io.EOF. A
// stream that dies inside a frame, or a length prefix beyond
// MaxFrameSize, fails with ErrFraming; both are fatal for the
// connection. ErrUnknownAction is returned alongside the decoded
// value and may be skipped.
func (r *Reader) Read() (model.Action, error) {
	if _, err := io.ReadFull(r.r, r.header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return model.Action{}, io.EOF
		}
		return model.Action{}, errors.Join(ErrFraming, err)
	}

	length := binary.LittleEndian.Uint32(r.header[:])
	if length > MaxFrameSize {
		return model.Action{}, errors.Join(ErrFraming, ErrFrameTooLarge)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r.r, payload); err != nil {
		// EOF between header and payload is still a mid-frame break.
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return model.Action{}, errors.Join(ErrFraming, err)
	}
	return Decode(payload)
}
