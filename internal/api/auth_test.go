package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestBearerAuth_RejectsMissingOrWrongToken(t *testing.T) {
	handler := BearerAuth("right-token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"wrong token", "Bearer wrong-token"},
		{"missing prefix", "right-token"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("got status %d, want 401", rec.Code)
			}
		})
	}
}

func TestBearerAuth_AcceptsCorrectToken(t *testing.T) {
	handler := BearerAuth("right-token")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer right-token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("got status %d, want 200", rec.Code)
	}
}

func TestCheckToken(t *testing.T) {
	if !checkToken("abc", "abc") {
		t.Fatal("expected matching tokens to check out")
	}
	if checkToken("abc", "xyz") {
		t.Fatal("expected mismatched tokens to fail")
	}
	if checkToken("", "abc") {
		t.Fatal("expected an empty token to fail against a non-empty one")
	}
}
