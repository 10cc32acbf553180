package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestActorMiddleware_InjectsActor(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"explicit", "alice@example.com", "alice@example.com"},
		{"missing", "", DefaultActor},
		{"whitespace only", "   ", DefaultActor},
		{"control characters", "bob\x00\x1b", "bob"},
		{"too long", strings.Repeat("あ", 70), strings.Repeat("あ", 64)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			handler := NewActorMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = ActorFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodPost, "/api/sources", nil)
			if tt.header != "" {
				req.Header.Set(ActorHeader, tt.header)
			}
			handler.ServeHTTP(httptest.NewRecorder(), req)

			if got != tt.want {
				t.Errorf("actor = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestActorFromContext_Default(t *testing.T) {
	if got := ActorFromContext(context.Background()); got != DefaultActor {
		t.Errorf("ActorFromContext() = %q, want %q", got, DefaultActor)
	}
}
