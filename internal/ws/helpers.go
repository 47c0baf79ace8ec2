package ws

import (
	"io"
	"net/http"
	"time"
)

// maxHookBodyBytes bounds a single /api/hook request body.
const maxHookBodyBytes = 1 << 20 // 1MiB

func readAllLimited(r *http.Request) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r.Body, maxHookBodyBytes))
}

func jsonNow() string {
	return time.Now().UTC().Format(time.RFC3339)
}
