package utils

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NewUUID returns a random UUID string. Used for durable entity ids.
func NewUUID() string {
	return uuid.NewString()
}

// NewConnID returns a best-effort unique identifier for an ephemeral
// transport connection.
func NewConnID() string {
	const size = 12

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err == nil {
		return hex.EncodeToString(buf)
	}

	// Fallback to timestamp if crypto/rand is unavailable.
	return strconv.FormatInt(time.Now().UnixNano(), 10)
}
