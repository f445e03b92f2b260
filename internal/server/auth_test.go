package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// TestAuthMiddleware_Disabled verifies that an empty key leaves the handler
// unwrapped.
func TestAuthMiddleware_Disabled(t *testing.T) {
	t.Parallel()

	h := authMiddleware("", okHandler)
	req := httptest.NewRequest(http.MethodGet, "/api/novels/moon-gate", nil)
	w := httptest.NewRecorder()

	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("expected 200 when auth disabled, got %d", w.Code)
	}
}

// TestAuthMiddleware covers accepted and rejected Authorization headers.
// Rejections must carry the Bearer challenge and a JSON error body.
func TestAuthMiddleware(t *testing.T) {
	t.Parallel()

	const key = "s3cret-key"
	cases := []struct {
		name      string
		header    string
		wantCode  int
		wantError string
		wantAuth  string
	}{
		{"correct token", "Bearer " + key, http.StatusOK, "", ""},
		{"lowercase scheme", "bearer " + key, http.StatusOK, "", ""},
		{"missing header", "", http.StatusUnauthorized, "authorization required", `Bearer realm="novelt"`},
		{"basic auth", "Basic dXNlcjpwYXNz", http.StatusUnauthorized, "authorization required", `Bearer realm="novelt"`},
		{"wrong token", "Bearer wrong-token", http.StatusUnauthorized, "invalid token", `Bearer realm="novelt" error="invalid_token"`},
		{"prefix of key", "Bearer " + key[:len(key)-1], http.StatusUnauthorized, "invalid token", `Bearer realm="novelt" error="invalid_token"`},
		{"key with suffix", "Bearer " + key + "x", http.StatusUnauthorized, "invalid token", `Bearer realm="novelt" error="invalid_token"`},
		{"wrong case", "Bearer " + strings.ToUpper(key), http.StatusUnauthorized, "invalid token", `Bearer realm="novelt" error="invalid_token"`},
	}

	h := authMiddleware(key, okHandler)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/api/translate", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			if w.Code != tc.wantCode {
				t.Fatalf("expected %d, got %d", tc.wantCode, w.Code)
			}
			if tc.wantCode == http.StatusOK {
				return
			}

			if got := w.Header().Get("WWW-Authenticate"); got != tc.wantAuth {
				t.Errorf("WWW-Authenticate = %q, want %q", got, tc.wantAuth)
			}
			if ct := w.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
			var body errorResponse
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Error != tc.wantError {
				t.Errorf("error = %q, want %q", body.Error, tc.wantError)
			}
			if strings.Contains(w.Body.String(), key) {
				t.Error("response body leaks the configured key")
			}
		})
	}
}

// TestBearerToken verifies the bearerToken extraction helper.
func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"Bearer mytoken", "mytoken"},
		{"bearer mytoken", "mytoken"},
		{"BEARER mytoken", "mytoken"},
		{"Bearer  spaced ", "spaced"},
		{"Basic dXNlcjpwYXNz", ""},
		{"", ""},
		{"Bearer", ""},
		{"token only", ""},
	}

	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		got := bearerToken(req)
		if got != tc.want {
			t.Errorf("header=%q: expected %q, got %q", tc.header, tc.want, got)
		}
	}
}
