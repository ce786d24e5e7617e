package idempotency

import (
	"net/http"
	"strings"
)

const Header = "Idempotency-Key"

// Keys longer than this are rejected instead of truncated, so that two
// distinct long keys never collide in storage.
const MaxKeyLen = 128

func Key(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(Header))
}

func Valid(key string) bool {
	return len(key) <= MaxKeyLen
}
