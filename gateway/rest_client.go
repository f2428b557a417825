package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"
)

// RESTClient is a signed HTTP client for venue REST endpoints. HTTPClient
// is injectable so tests run against httptest servers.
type RESTClient struct {
	BaseURL      string
	APIKey       string
	Secret       string
	APIKeyHeader string
	HTTPClient   *http.Client
	Limiter      *RateGate
	RecvWindowMs int
}

func NewRESTClient(baseURL, apiKey, secret string) *RESTClient {
	return &RESTClient{
		BaseURL:      baseURL,
		APIKey:       apiKey,
		Secret:       secret,
		APIKeyHeader: "X-API-KEY",
		HTTPClient:   &http.Client{Timeout: 10 * time.Second},
		Limiter:      NewRateGate(10, 20),
		RecvWindowMs: 5000,
	}
}

// SignParams serializes params in sorted-key order and returns the query
// string plus its HMAC-SHA256 signature.
func SignParams(params map[string]string, secret string) (string, string) {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	query := values.Encode()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(query))
	return query, hex.EncodeToString(mac.Sum(nil))
}

// Signed issues a signed request and returns the response body. Non-2xx
// responses surface as errors carrying the status and truncated body.
func (c *RESTClient) Signed(ctx context.Context, method, path string, params map[string]string) ([]byte, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("rest client: http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if params == nil {
		params = map[string]string{}
	}
	params["timestamp"] = strconv.FormatInt(time.Now().UnixMilli(), 10)
	if c.RecvWindowMs > 0 {
		params["recvWindow"] = strconv.Itoa(c.RecvWindowMs)
	}
	query, sig := SignParams(params, c.Secret)
	endpoint := c.BaseURL + path + "?" + query + "&signature=" + url.QueryEscape(sig)

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.APIKey != "" {
		header := c.APIKeyHeader
		if header == "" {
			header = "X-API-KEY"
		}
		req.Header.Set(header, c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rest client: %s %s status %d: %s",
			method, path, resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

// Public issues an unsigned request.
func (c *RESTClient) Public(ctx context.Context, path string, params map[string]string) ([]byte, error) {
	if c == nil || c.HTTPClient == nil {
		return nil, fmt.Errorf("rest client: http client not set")
	}
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	values := url.Values{}
	for k, v := range params {
		values.Set(k, v)
	}
	endpoint := c.BaseURL + path
	if len(values) > 0 {
		endpoint += "?" + values.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("rest client: GET %s status %d: %s",
			path, resp.StatusCode, truncate(body, 256))
	}
	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
