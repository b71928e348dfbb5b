package plugin

import (
	"net/http"
	"strings"
)

// deleteHeader removes every key matching name case-insensitively.
// Relayed headers are copied without canonicalisation, so Header.Del alone is not enough.
func deleteHeader(h http.Header, name string) {
	h.Del(name)
	for key := range h {
		if strings.EqualFold(key, name) {
			delete(h, key)
		}
	}
}
