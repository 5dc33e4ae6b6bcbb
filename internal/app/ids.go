package app

import (
	"crypto/rand"
	"encoding/hex"
)

func newID(prefix string) string {
	bytes := make([]byte, 12)
	_, _ = rand.Read(bytes)
	return prefix + "_" + hex.EncodeToString(bytes)
}
