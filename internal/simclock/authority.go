package simclock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Authority exposes the externally agreed simulated time.
type Authority interface {
	Now(ctx context.Context) (time.Time, error)
}

// HTTPAuthority polls a URL answering with epoch milliseconds, either as a bare
// JSON number or as {"epoch": <ms>}.
type HTTPAuthority struct {
	URL    string
	Client *http.Client
}

func NewHTTPAuthority(url string, timeout time.Duration) *HTTPAuthority {
	return &HTTPAuthority{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (a *HTTPAuthority) Now(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build authority request: %w", err)
	}
	resp, err := a.Client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("query time authority: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("time authority answered %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return time.Time{}, fmt.Errorf("read authority response: %w", err)
	}
	ms, err := parseEpochMillis(body)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

func parseEpochMillis(body []byte) (int64, error) {
	body = bytes.TrimSpace(body)
	var n json.Number
	if err := json.Unmarshal(body, &n); err == nil {
		return n.Int64()
	}
	var obj struct {
		Epoch json.Number `json:"epoch"`
	}
	if err := json.Unmarshal(body, &obj); err != nil || obj.Epoch == "" {
		return 0, fmt.Errorf("unrecognised time authority payload: %q", body)
	}
	return obj.Epoch.Int64()
}
