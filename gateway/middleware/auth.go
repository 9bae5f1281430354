package middleware

import (
	"bytes"
	"io"
	"net/http"

	"escrowchain/gateway/auth"
)

// Auth authenticates requests with the HMAC authenticator. The body is
// buffered so handlers can still read it after signature verification.
func Auth(authenticator *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authenticator == nil {
				http.Error(w, "gateway authentication not configured", http.StatusServiceUnavailable)
				return
			}
			reader := http.MaxBytesReader(w, r.Body, int64(auth.MaxBodyForSignature))
			body, err := io.ReadAll(reader)
			if err != nil {
				http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
				return
			}
			_ = r.Body.Close()
			r.Body = io.NopCloser(bytes.NewReader(body))
			if _, err := authenticator.Authenticate(r, body); err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
