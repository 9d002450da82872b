package protocol

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

const frameHeaderBytes = 4

// DefaultMaxFrameBytes bounds a frame when no explicit limit is given.
const DefaultMaxFrameBytes = 1 << 20

var (
	ErrEmptyFrame    = errors.New("frame length zero")
	ErrFrameTooLarge = errors.New("frame exceeds size limit")
)

// Encoder writes envelopes with a length-prefixed JSON frame.
type Encoder struct {
	writer io.Writer
}

// Decoder reads envelopes with a length-prefixed JSON frame.
type Decoder struct {
	reader   *bufio.Reader
	maxFrame uint32
}

// NewEncoder creates a new encoder for the given writer.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{writer: w}
}

// NewDecoder creates a new decoder for the given reader. Frames larger
// than maxFrame bytes are rejected; a non-positive limit uses
// DefaultMaxFrameBytes.
func NewDecoder(r io.Reader, maxFrame int) *Decoder {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrameBytes
	}
	return &Decoder{reader: bufio.NewReader(r), maxFrame: uint32(maxFrame)}
}

// Encode writes the envelope to the underlying writer as a single frame.
func (e *Encoder) Encode(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	frame := make([]byte, frameHeaderBytes+len(data))
	binary.BigEndian.PutUint32(frame, uint32(len(data)))
	copy(frame[frameHeaderBytes:], data)

	_, err = e.writer.Write(frame)
	return err
}

// Decode reads the next envelope from the stream. Numbers inside
// metadata and payloads are kept as json.Number so 64-bit ids survive.
func (d *Decoder) Decode(ctx context.Context) (Envelope, error) {
	var env Envelope

	header := make([]byte, frameHeaderBytes)
	if err := d.readFull(ctx, header); err != nil {
		return env, err
	}

	length := binary.BigEndian.Uint32(header)
	if length == 0 {
		return env, ErrEmptyFrame
	}
	if length > d.maxFrame {
		return env, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, length, d.maxFrame)
	}

	payload := make([]byte, length)
	if err := d.readFull(ctx, payload); err != nil {
		return env, err
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return env, err
	}

	return env, nil
}

func (d *Decoder) readFull(ctx context.Context, buf []byte) error {
	read := 0
	for read < len(buf) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := d.reader.Read(buf[read:])
		read += n
		if err != nil {
			if errors.Is(err, io.EOF) && read > 0 && read < len(buf) {
				return io.ErrUnexpectedEOF
			}
			if read == len(buf) {
				return nil
			}
			return err
		}
	}
	return nil
}
