// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// RPC params and results decode into map[string]any when the
		// target is untyped; the CBOR default of
		// map[interface{}]interface{} cannot be re-encoded as JSON.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
		// A single request is bounded well below this; it stops a
		// hostile peer from declaring gigantic arrays.
		MaxArrayElements: 1 << 16,
		MaxMapPairs:      1 << 16,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to deterministic CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// Encoder writes a CBOR sequence.
type Encoder = cbor.Encoder

// Decoder reads a CBOR sequence.
type Decoder = cbor.Decoder

// RawMessage is an undecoded CBOR item, used to defer decoding of RPC
// params until the handler knows their type.
type RawMessage = cbor.RawMessage

// NewEncoder returns an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return encMode.NewEncoder(w)
}

// NewDecoder returns a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return decMode.NewDecoder(r)
}
