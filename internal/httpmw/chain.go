package httpmw

import (
	"net/http"
	"slices"
)

// Chain wraps h so the first middleware is outermost. Nil entries are skipped, which lets
// callers write Chain(h, a, maybeB(), c) with optional middleware.
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for _, mw := range slices.Backward(mws) {
		if mw != nil {
			h = mw(h)
		}
	}
	return h
}
