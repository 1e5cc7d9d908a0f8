package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// ProviderSubscription は決済プロバイダーAPIが返すサブスクリプションの写像。
type ProviderSubscription struct {
	ID                 string `json:"id"`
	Status             string `json:"status"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	Quantity           int    `json:"quantity"`
}

// Client は決済プロバイダーAPIのHTTPクライアント。
// checkout完了イベントの内容を鵜呑みにせず、
// サブスクリプションの正式な状態はAPIから取得する。
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient はClientを生成する。
func NewClient(baseURL, apiKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
	}
}

// FetchSubscription はプロバイダーからサブスクリプションの現在状態を取得する。
func (c *Client) FetchSubscription(ctx context.Context, externalID string) (*ProviderSubscription, error) {
	url := fmt.Sprintf("%s/v1/subscriptions/%s", c.baseURL, externalID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create subscription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read subscription response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("subscription fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var sub ProviderSubscription
	if err := json.Unmarshal(body, &sub); err != nil {
		return nil, fmt.Errorf("failed to parse subscription response: %w", err)
	}
	if sub.ID == "" {
		return nil, fmt.Errorf("empty subscription id in response")
	}
	return &sub, nil
}
