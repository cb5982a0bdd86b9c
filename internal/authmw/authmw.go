// Package authmw gates referrer endpoints behind static bearer tokens.
package authmw

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
)

const scheme = "bearer"

// BearerToken returns middleware that admits requests carrying any of the
// given tokens. Empty tokens are ignored; with none left every request is
// rejected. Tokens are compared as SHA-256 digests in constant time so
// neither the token nor its length leaks through timing. Listing several
// tokens allows rotation without downtime.
func BearerToken(tokens ...string) func(http.Handler) http.Handler {
	var digests [][sha256.Size]byte
	for _, t := range tokens {
		if t != "" {
			digests = append(digests, sha256.Sum256([]byte(t)))
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				deny(w, "missing or malformed authorization header")
				return
			}

			sum := sha256.Sum256([]byte(got))
			match := 0
			for i := range digests {
				match |= subtle.ConstantTimeCompare(sum[:], digests[i][:])
			}
			if match != 1 {
				deny(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// bearer extracts the credentials of a Bearer authorization header. The
// scheme is case-insensitive.
func bearer(header string) (string, bool) {
	s, cred, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(s, scheme) {
		return "", false
	}
	cred = strings.TrimSpace(cred)
	return cred, cred != ""
}

func deny(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="gli"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
