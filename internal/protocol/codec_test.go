package protocol

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	enc := NewEncoder(&buf)

	parent := uint64(1)
	sent := Envelope{
		ID:        "req-1",
		Type:      MessageTypeCommand,
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Token:     "tok",
		Metadata:  map[string]interface{}{"action": ActionMessageCreate},
		Payload:   CreateMessageRequest{Content: "hi", ParentID: &parent},
	}
	require.NoError(t, enc.Encode(ctx, sent))
	require.NoError(t, enc.Encode(ctx, Envelope{ID: "req-2", Type: MessageTypeAck}))

	dec := NewDecoder(&buf, 0)
	got, err := dec.Decode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-1", got.ID)
	assert.Equal(t, ActionMessageCreate, got.Action())
	assert.True(t, sent.Timestamp.Equal(got.Timestamp))

	req, err := DecodePayload[CreateMessageRequest](got.Payload)
	require.NoError(t, err)
	assert.Equal(t, "hi", req.Content)
	require.NotNil(t, req.ParentID)
	assert.Equal(t, uint64(1), *req.ParentID)

	second, err := dec.Decode(ctx)
	require.NoError(t, err)
	assert.Equal(t, "req-2", second.ID)

	_, err = dec.Decode(ctx)
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeKeepsLargeIDs(t *testing.T) {
	var buf bytes.Buffer
	ctx := context.Background()
	const big = uint64(1<<63 + 12345)

	require.NoError(t, NewEncoder(&buf).Encode(ctx, Envelope{ID: "x", Payload: MessageIDRequest{ID: big}}))
	env, err := NewDecoder(&buf, 0).Decode(ctx)
	require.NoError(t, err)

	req, err := DecodePayload[MessageIDRequest](env.Payload)
	require.NoError(t, err)
	assert.Equal(t, big, req.ID)
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, frameHeaderBytes)
	binary.BigEndian.PutUint32(header, 64)
	buf.Write(header)
	buf.Write(bytes.Repeat([]byte{' '}, 64))

	_, err := NewDecoder(&buf, 16).Decode(context.Background())
	assert.ErrorIs(t, err, ErrFrameTooLarge)
}

func TestDecodeRejectsEmptyFrame(t *testing.T) {
	buf := bytes.NewBuffer(make([]byte, frameHeaderBytes))
	_, err := NewDecoder(buf, 0).Decode(context.Background())
	assert.ErrorIs(t, err, ErrEmptyFrame)
}

func TestDecodeTruncatedFrame(t *testing.T) {
	var buf bytes.Buffer
	header := make([]byte, frameHeaderBytes)
	binary.BigEndian.PutUint32(header, 10)
	buf.Write(header)
	buf.WriteString("{\"id\"")

	_, err := NewDecoder(&buf, 0).Decode(context.Background())
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestEncodeHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var buf bytes.Buffer
	err := NewEncoder(&buf).Encode(ctx, Envelope{ID: "x"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, buf.Len())
}

func TestDecodePayloadEmpty(t *testing.T) {
	_, err := DecodePayload[MessageIDRequest](nil)
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestMessageRecordOptionalFields(t *testing.T) {
	plain := MessageRecord{ID: 1, Author: "a", Content: "x", Replies: []uint64{}}
	data, err := json.Marshal(plain)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "updated_at")
	assert.NotContains(t, string(data), "parent_id")
	assert.Contains(t, string(data), `"replies":[]`)

	zero := uint64(0)
	withZero := plain
	withZero.UpdatedAt = &zero
	withZero.ParentID = &zero
	data, err = json.Marshal(withZero)
	require.NoError(t, err)

	var back MessageRecord
	require.NoError(t, json.Unmarshal(data, &back))
	require.NotNil(t, back.UpdatedAt, "a zero timestamp is present, not absent")
	require.NotNil(t, back.ParentID)
	assert.Zero(t, *back.UpdatedAt)
	assert.Zero(t, *back.ParentID)
}
