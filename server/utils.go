package server

import (
	"net/http"
	"os"
	"strconv"
)

// queryLimit reads ?limit=, falling back to def when absent, malformed or
// outside 1..ceiling.
func queryLimit(r *http.Request, def, ceiling int) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 || n > ceiling {
		return def
	}
	return n
}

// positiveEnvInt returns def unless key holds an integer above zero.
func positiveEnvInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
