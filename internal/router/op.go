// Package router is the execution core: it maps operation identifiers to
// independently registered logic modules, dispatches every incoming call to
// the module that owns it, and applies route changes through an atomic,
// owner-gated mutation protocol. Modules never own state; they run against
// the shared storage arena under the original caller's identity.
package router

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	apperrors "github.com/stagegate/stagegate/internal/platform/errors"
)

// OpID is a fixed-width opaque code identifying one callable entry point.
// Identifiers are derived from operation names the way ABI selectors are,
// so independently built modules agree on them without coordination.
type OpID [4]byte

// OpNamed derives the operation identifier for a name: the first four bytes
// of the name's SHA-256 digest.
func OpNamed(name string) OpID {
	sum := sha256.Sum256([]byte(name))
	var op OpID
	copy(op[:], sum[:4])
	return op
}

// String renders the identifier in its canonical 0x-prefixed hex form.
func (op OpID) String() string {
	return "0x" + hex.EncodeToString(op[:])
}

// IsZero reports whether the identifier is the zero value.
func (op OpID) IsZero() bool {
	return op == OpID{}
}

// ParseOp parses the canonical 0x-prefixed hex form of an identifier.
func ParseOp(s string) (OpID, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != len(OpID{}) {
		return OpID{}, apperrors.WithMetadata(apperrors.CodeArgumentInvalid,
			fmt.Sprintf("malformed operation id %q", s),
			map[string]string{"op": s})
	}
	var op OpID
	copy(op[:], raw)
	return op, nil
}
