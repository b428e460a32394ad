package httpsteps

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dcshock/mlpipe/pipeline"
)

// Get returns a step that GETs the fixed url and returns the body as []byte.
// The step input is ignored. A nil client means http.DefaultClient.
func Get(client *http.Client, url string) pipeline.StepFunc {
	if client == nil {
		client = http.DefaultClient
	}
	return func(ctx context.Context, _ any) (any, error) {
		return get(ctx, client, url)
	}
}

func get(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("http get: new request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, pipeline.RetryableErr(fmt.Errorf("http get %q: %w", url, err))
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, pipeline.RetryableErr(fmt.Errorf("http get %q: status %d", url, resp.StatusCode))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("http get %q: status %d", url, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("http get %q: read body: %w", url, err)
	}
	return body, nil
}
