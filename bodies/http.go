package bodies

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum-optimism/op-harness/types"
)

// maxBodyBytes caps how much of a response body is read for assertions.
const maxBodyBytes = 1 << 20

// HTTPCheck issues a request and asserts on the response.
type HTTPCheck struct {
	URL          string
	Method       string
	ExpectStatus int
	ExpectBody   string
	Client       *http.Client
}

var _ types.TestBody = (*HTTPCheck)(nil)

// Run implements types.TestBody.
func (h *HTTPCheck) Run(ctx context.Context, env types.Environment) error {
	method := h.Method
	if method == "" {
		method = http.MethodGet
	}
	want := h.ExpectStatus
	if want == 0 {
		want = http.StatusOK
	}
	client := h.Client
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	url := env.Expand(h.URL)
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("invalid request %s %s: %w", method, url, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("reading response from %s: %w", url, err)
	}
	if resp.StatusCode != want {
		return fmt.Errorf("%s %s: expected status %d, got %d", method, url, want, resp.StatusCode)
	}
	if expect := env.Expand(h.ExpectBody); expect != "" && !strings.Contains(string(body), expect) {
		return fmt.Errorf("%s %s: response body does not contain %q", method, url, expect)
	}
	return nil
}
