package types

import (
	"crypto/rand"
	"encoding/base32"
	"strings"
)

var idEncoding = base32.NewEncoding("0123456789abcdefghjkmnpqrstvwxyz").WithPadding(base32.NoPadding)

// NewID returns a random opaque identifier prefixed with the given entity
// tag, e.g. NewID("sig") -> "sig_8f2k3n...". Collisions are not checked here;
// callers that persist a row rely on the store's primary key to reject a
// duplicate.
func NewID(prefix string) string {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		panic("types: crypto/rand unavailable: " + err.Error())
	}
	return prefix + "_" + strings.ToLower(idEncoding.EncodeToString(buf[:]))
}
