package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrStatus wraps every non-200 reply from the REST API.
var ErrStatus = errors.New("binance: unexpected status")

// DefaultRESTBaseURL is the public spot API.
const DefaultRESTBaseURL = "https://api.binance.com"

// DepthClient pulls order book snapshots over REST. It needs no API key.
type DepthClient struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewDepthClient builds a client whose every request is capped by timeout,
// so a hung call cannot stall the next poll.
func NewDepthClient(baseURL string, timeout time.Duration) *DepthClient {
	if baseURL == "" {
		baseURL = DefaultRESTBaseURL
	}
	return &DepthClient{
		BaseURL:    baseURL,
		HTTPClient: &http.Client{Timeout: timeout},
	}
}

// GetDepthSnapshot 通过 REST API 拉取指定深度的快照
// limit: 1..5000，常用 5, 10, 20
func (c *DepthClient) GetDepthSnapshot(ctx context.Context, symbol string, limit int) (*DepthSnapshot, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("limit", strconv.Itoa(limit))
	reqURL := fmt.Sprintf("%s/api/v3/depth?%s", c.BaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return nil, fmt.Errorf("%w %d: code=%d msg=%s", ErrStatus, resp.StatusCode, apiErr.Code, apiErr.Msg)
		}
		return nil, fmt.Errorf("%w %d: %s", ErrStatus, resp.StatusCode, string(body))
	}

	var snapshot DepthSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("decode depth: %w", err)
	}
	return &snapshot, nil
}
