// Package streamid provides the fixed-width identifiers shared by every
// layer of the streaming core: channel ids and actor ids are both plain
// 20-byte values, equality- and hash-comparable, printable as hex.
package streamid

import (
	"encoding/hex"

	"github.com/cloudwego/gopkg/hash/xfnv"
	"github.com/cloudwego/gopkg/unsafex"
)

// Size is the width of an ID in bytes.
const Size = 20

// ID is an opaque fixed-width identifier. It is comparable and usable
// directly as a map key.
type ID [Size]byte

// Nil is the zero-value ID, used as a "not set" sentinel.
var Nil ID

// FromBytes copies b into a new ID. b must be exactly Size bytes.
func FromBytes(b []byte) (ID, bool) {
	var id ID
	if len(b) != Size {
		return id, false
	}
	copy(id[:], b)
	return id, true
}

// String renders the ID as lowercase hex, an identifier logged on nearly
// every hot path (handshake retries, queue lookups, bundle routing), so
// the hex buffer is handed back as a string with no further copy.
func (id ID) String() string {
	dst := make([]byte, hex.EncodedLen(Size))
	hex.Encode(dst, id[:])
	return unsafex.BinaryToString(dst)
}

// IsNil reports whether id is the zero value.
func (id ID) IsNil() bool {
	return id == Nil
}

// Hash returns a fast, non-cryptographic, non-cross-platform hash of id.
// Used for sharding fixed-size registries, not for on-wire identification.
func (id ID) Hash() uint64 {
	return xfnv.Hash(id[:])
}
