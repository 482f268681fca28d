package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware_RecordsLatencyAndPassesThrough(t *testing.T) {
	called := false
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, r)

	if !called {
		t.Error("Middleware should invoke the wrapped handler")
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestStatusLabel(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{404, "4xx"},
		{429, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "other"},
	}
	for _, tt := range tests {
		if got := statusLabel(tt.code); got != tt.want {
			t.Errorf("statusLabel(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestSanitizeModelLabel(t *testing.T) {
	tests := []struct {
		model string
		want  string
	}{
		{"gpt-5", "gpt-5"},
		{"openai/gpt-5", "gpt-5"},
		{"", "unknown"},
		{"weird model!!", "weird_model"},
	}
	for _, tt := range tests {
		if got := sanitizeModelLabel(tt.model); got != tt.want {
			t.Errorf("sanitizeModelLabel(%q) = %q, want %q", tt.model, got, tt.want)
		}
	}
}
