package streaming

import (
	"bytes"
	"context"
	"net/http/httptest"
	"testing"
)

func TestForwarder_AllowsLargeSSELines(t *testing.T) {
	large := make([]byte, 32*1024)
	for i := range large {
		large[i] = 'a'
	}
	stream := append([]byte("data: "), large...)
	stream = append(stream, []byte("\n\n")...)
	stream = append(stream, []byte("data: [DONE]\n\n")...)

	rec := httptest.NewRecorder()
	fwd, err := NewForwarder(ForwarderConfig{
		Upstream:   ioNopCloser{r: bytes.NewReader(stream)},
		Downstream: rec,
		ClientCtx:  context.Background(),
	})
	if err != nil {
		t.Fatalf("NewForwarder() error = %v", err)
	}

	if err := fwd.Forward(); err != nil {
		t.Fatalf("Forward() error = %v", err)
	}

	body := rec.Body.String()
	if !bytes.Contains([]byte(body), large) {
		t.Fatalf("Forward() dropped or truncated the large line; body len = %d, want the full %d-byte payload present", len(body), len(large))
	}
	if !bytes.Contains([]byte(body), []byte("data: [DONE]")) {
		t.Fatalf("Forward() body missing terminal [DONE] marker: %q", body)
	}
}

type ioNopCloser struct {
	r *bytes.Reader
}

func (c ioNopCloser) Read(p []byte) (int, error) { return c.r.Read(p) }
func (c ioNopCloser) Close() error               { return nil }
