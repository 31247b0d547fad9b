package protocol

import (
	"io"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Decoder reads successive JSON values off a stream. The wire format is
// "newline-agnostic": frames are delimited by JSON's own balanced braces, so
// a plain jsoniter.Decoder (which stops at the end of one value and leaves
// the reader positioned at the next) is sufficient; no length prefix or
// delimiter is written or expected.
type Decoder struct {
	dec *jsoniter.Decoder
}

// NewDecoder wraps r for successive command decoding.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: json.NewDecoder(r)}
}

// peekCommand is the minimal envelope used to dispatch on the `command`
// field before unmarshaling into the concrete request type.
type peekCommand struct {
	Command string `json:"command"`
}

// Next decodes the next JSON value on the stream directly into v.
//
// jsoniter's streaming Decoder cannot rewind, so callers needing both the
// discriminator and the full payload should use DecodeRaw instead; Next
// exists for callers that already know which type they expect.
func (d *Decoder) Next(v any) error {
	return d.dec.Decode(v)
}

// RawEnvelope holds one decoded message as both its command name and its
// raw bytes, so the caller can branch on Command before unmarshaling into
// the concrete request struct.
type RawEnvelope struct {
	Command string
	raw     jsoniter.RawMessage
}

// Unmarshal decodes the envelope's raw bytes into v.
func (e RawEnvelope) Unmarshal(v any) error {
	return json.Unmarshal(e.raw, v)
}

// DecodeRaw reads the next balanced-brace JSON value, extracts its
// `command` field, and retains the raw bytes for a second-pass unmarshal.
func (d *Decoder) DecodeRaw() (RawEnvelope, error) {
	var raw jsoniter.RawMessage
	if err := d.dec.Decode(&raw); err != nil {
		return RawEnvelope{}, err
	}
	var peek peekCommand
	if err := json.Unmarshal(raw, &peek); err != nil {
		return RawEnvelope{}, err
	}
	return RawEnvelope{Command: peek.Command, raw: raw}, nil
}

// Encoder writes JSON replies back to a worker, one balanced-brace value
// per message, no delimiter.
type Encoder struct {
	w io.Writer
}

// NewEncoder wraps w for reply encoding.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Encode writes v as a single JSON value.
func (e *Encoder) Encode(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = e.w.Write(b)
	return err
}
