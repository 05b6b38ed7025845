package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		wantKeep bool
	}{
		{name: "no header generates uuid", incoming: "", wantKeep: false},
		{name: "existing id preserved", incoming: "existing-request-id-123", wantKeep: true},
		{name: "uuid preserved", incoming: "550e8400-e29b-41d4-a716-446655440000", wantKeep: true},
		{name: "whitespace rejected", incoming: "abc def", wantKeep: false},
		{name: "control characters rejected", incoming: "abc\x1bdef", wantKeep: false},
		{name: "oversized id rejected", incoming: strings.Repeat("a", maxRequestIDLength+1), wantKeep: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var captured string
			handler := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				captured = GetRequestID(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/feed", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)

			if captured == "" {
				t.Fatal("expected request ID in context, got empty string")
			}
			if got := rr.Header().Get(RequestIDHeader); got != captured {
				t.Errorf("response header %q does not match context id %q", got, captured)
			}
			if tt.wantKeep {
				if captured != tt.incoming {
					t.Errorf("expected request ID %q, got %q", tt.incoming, captured)
				}
				return
			}
			if _, err := uuid.Parse(captured); err != nil {
				t.Errorf("expected generated uuid, got %q", captured)
			}
		})
	}
}

func TestGetRequestID_EmptyContextReturnsEmptyString(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	if id := GetRequestID(req.Context()); id != "" {
		t.Errorf("expected empty string, got %q", id)
	}
}
