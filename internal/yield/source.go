package yield

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// PoolSource 是一个外部收益数据源。
type PoolSource interface {
	Name() string
	FetchPools(ctx context.Context) ([]RawPool, error)
}

const (
	defaultFeedTimeout = 10 * time.Second
	// DefiLlama 全量池子约 10MB，留足余量。
	maxFeedBody = 64 << 20
)

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultFeedTimeout
	}
	return &http.Client{Timeout: timeout}
}

// getBody 执行单次 GET，不做内部重试。
func getBody(ctx context.Context, client *http.Client, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}
