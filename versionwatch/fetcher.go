package versionwatch

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// payload is the body of /version.json
type payload struct {
	Version string `json:"version"`
}

// HTTPFetcher fetches the version token from a version.json endpoint, bypassing caches on the way
type HTTPFetcher struct {
	URL    string
	Client *http.Client
	// Header is added to every request, e.g. the access digest
	Header http.Header
	now    func() time.Time
}

func NewHTTPFetcher(endpoint string) *HTTPFetcher {
	return &HTTPFetcher{URL: endpoint, Client: &http.Client{Timeout: 10 * time.Second}}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) (string, error) {
	u, err := url.Parse(f.URL)
	if err != nil {
		return "", err
	}
	now := time.Now
	if f.now != nil {
		now = f.now
	}
	q := u.Query()
	q.Set("ts", strconv.FormatInt(now().UnixNano()/int64(time.Millisecond), 10))
	u.RawQuery = q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	for k, vs := range f.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Cache-Control", "no-cache")
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unexpected status %d from %s", resp.StatusCode, f.URL)
	}
	var p payload
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return "", err
	}
	return p.Version, nil
}
