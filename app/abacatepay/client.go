package abacatepay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"example/mockup-billing/app/lookup"
)

const DefaultBaseURL = "https://api.abacatepay.com/v1"

// Client calls the AbacatePay REST API.
type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func NewClient(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpc:   &http.Client{Timeout: 15 * time.Second},
	}
}

type statusEnvelope struct {
	Data *struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
	Error any `json:"error"`
}

// GetPaymentStatus asks AbacatePay for the authoritative status of a charge.
// PIX QR code charges and bills live behind different endpoints.
func (c *Client) GetPaymentStatus(ctx context.Context, id string) lookup.Result[string] {
	if id == "" {
		return lookup.Missing[string]()
	}
	if c.apiKey == "" {
		return lookup.Failed[string](fmt.Errorf("abacatepay api key not configured"))
	}

	endpoint := "/billing/get"
	if strings.HasPrefix(id, "pix_char") {
		endpoint = "/pixQrCode/check"
	}
	u := c.baseURL + endpoint + "?id=" + url.QueryEscape(id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return lookup.Failed[string](err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return lookup.Failed[string](err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return lookup.Missing[string]()
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return lookup.Failed[string](err)
	}
	if resp.StatusCode >= 300 {
		return lookup.Failed[string](fmt.Errorf("abacatepay status %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var env statusEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return lookup.Failed[string](fmt.Errorf("decode abacatepay status: %w", err))
	}
	if env.Data == nil || env.Data.Status == "" {
		return lookup.Missing[string]()
	}
	return lookup.Of(strings.ToUpper(env.Data.Status))
}
