// Package codec provides the wire and storage encoding for the execution
// core. Dispatch arguments, dispatch results, and the persisted arena record
// all go through it, so every module observes the same byte-level format.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode is the CBOR encoder configured with Core Deterministic Encoding
// (RFC 8949 §4.2): sorted map keys, smallest integer encoding, no
// indefinite-length items. Same logical data always produces identical
// bytes, which is what makes "byte-identical state" a checkable property.
var encMode cbor.EncMode

// decMode is the CBOR decoder configured to accept standard CBOR. Unknown
// fields are ignored so records written by a newer layout still decode.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Argument payloads are decoded into any-typed values in a few
		// places; map[string]any is the concrete type the rest of the
		// code (and encoding/json at the HTTP boundary) expects.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}
