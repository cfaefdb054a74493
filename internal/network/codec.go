package network

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

// Format is the wire encoding a client chose at connect time.
type Format int

const (
	FormatJSON Format = iota
	FormatMsgpack
)

func (f Format) String() string {
	if f == FormatMsgpack {
		return "msgpack"
	}
	return "json"
}

// ParseFormat maps the ?format= query value. Anything unknown is JSON.
func ParseFormat(s string) Format {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "msgpack", "mp", "binary":
		return FormatMsgpack
	default:
		return FormatJSON
	}
}

// Encode marshals v. Msgpack falls back to json tags for structs that do
// not carry msgpack tags of their own.
func Encode(f Format, v interface{}) ([]byte, error) {
	if f == FormatJSON {
		return json.Marshal(v)
	}
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode is the inverse of Encode.
func Decode(f Format, data []byte, v interface{}) error {
	if f == FormatJSON {
		return json.Unmarshal(data, v)
	}
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
