// Package codec serializes and deserializes an RPCMessage to and from a
// self-describing binary payload. The wire format is MessagePack, via
// github.com/vmihailenco/msgpack/v5 — the same pairing the wider RPC
// ecosystem uses for a framed, language-agnostic envelope.
//
// A Codec is stateless and safe for concurrent use: every call constructs
// its own encoder/decoder over a fresh buffer, so no goroutine can observe
// another's in-flight encode.
package codec

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"rpcmux/message"
)

// Codec encodes and decodes RPCMessage values.
type Codec struct{}

// New returns a ready-to-use Codec.
func New() *Codec {
	return &Codec{}
}

// Encode serializes msg to a MessagePack byte slice.
func (c *Codec) Encode(msg *message.RPCMessage) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("msgpack")
	enc.UseCompactInts(true)
	if err := enc.Encode(msg); err != nil {
		return nil, fmt.Errorf("codec: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode deserializes a MessagePack byte slice into msg. Decoding a map
// under "data" yields map[string]any, which is what the tracing adapter
// and middleware pipeline expect when reading the reserved "traceparent"
// key.
func (c *Codec) Decode(data []byte, msg *message.RPCMessage) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("msgpack")
	if err := dec.Decode(msg); err != nil {
		return fmt.Errorf("codec: decode: %w", err)
	}
	if !msg.PatternType.Valid() {
		return fmt.Errorf("codec: invalid patternType %d", msg.PatternType)
	}
	return nil
}
