package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// GenerateID returns prefix_<16 hex chars>.
func GenerateID(prefix string) string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// GenerateInstanceID generates an id for one gateway process
func GenerateInstanceID() string {
	return GenerateID("gw")
}

// GenerateConnectionID generates an id for one realtime connection
func GenerateConnectionID() string {
	return GenerateID("conn")
}

// GenerateRequestID generates a unique request ID
func GenerateRequestID() string {
	b := make([]byte, 4)
	_, _ = rand.Read(b)
	return fmt.Sprintf("req_%d_%s", time.Now().UnixNano(), hex.EncodeToString(b))
}
