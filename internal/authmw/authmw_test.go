package authmw

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
})

func serve(h http.Handler, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	h := BearerToken("current-token", "previous-token")(okHandler)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"current token", "Bearer current-token", http.StatusOK},
		{"rotated token", "Bearer previous-token", http.StatusOK},
		{"lowercase scheme", "bearer current-token", http.StatusOK},
		{"trailing space", "Bearer current-token ", http.StatusOK},
		{"wrong token", "Bearer nope", http.StatusUnauthorized},
		{"token prefix", "Bearer current", http.StatusUnauthorized},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized},
		{"no scheme", "current-token", http.StatusUnauthorized},
		{"scheme only", "Bearer ", http.StatusUnauthorized},
		{"missing header", "", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			rec := serve(h, tt.header)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestBearerToken_DenyResponse(t *testing.T) {
	t.Parallel()

	rec := serve(BearerToken("secret")(okHandler), "Bearer wrong")

	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if rec.Header().Get("WWW-Authenticate") == "" {
		t.Error("expected WWW-Authenticate header")
	}
	if !strings.Contains(rec.Body.String(), `"error":"invalid token"`) {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestBearerToken_FailsClosedWithoutTokens(t *testing.T) {
	t.Parallel()

	for _, h := range []http.Handler{
		BearerToken()(okHandler),
		BearerToken("", "")(okHandler),
	} {
		if rec := serve(h, "Bearer "); rec.Code != http.StatusUnauthorized {
			t.Errorf("empty bearer: status = %d, want 401", rec.Code)
		}
		if rec := serve(h, "Bearer anything"); rec.Code != http.StatusUnauthorized {
			t.Errorf("any bearer: status = %d, want 401", rec.Code)
		}
	}
}
