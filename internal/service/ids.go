package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

func newID() string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func newToken() string {
	bytes := make([]byte, 20)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// chunkID is stable per document and position so re-ingesting overwrites
// vectors instead of leaking them.
func chunkID(docID string, position int) string {
	return fmt.Sprintf("%s-%04d", docID, position)
}
