package scanning

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Webhook sends receipts to an external OCR workflow (for example an n8n
// webhook) that answers with invoice JSON.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook scanner posting to url.
func NewWebhook(url string) (*Webhook, error) {
	if url == "" {
		return nil, fmt.Errorf("webhook url is required")
	}
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 90 * time.Second},
	}, nil
}

type webhookRequest struct {
	Image string `json:"image"`
}

// ScanReceipt posts {"image": <base64>} and parses the reply.
func (w *Webhook) ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*InvoiceData, error) {
	pngData, err := prepareImageData(imageData, contentType)
	if err != nil {
		return nil, err
	}

	respBody, err := postJSON(ctx, w.client, w.url, webhookRequest{Image: base64.StdEncoding.EncodeToString(pngData)})
	if err != nil {
		return nil, fmt.Errorf("calling webhook: %w", err)
	}

	data, err := parseInvoiceJSON(string(respBody))
	if err != nil {
		return nil, fmt.Errorf("parsing invoice data: %w", err)
	}
	return data, nil
}

// Close is a no-op.
func (w *Webhook) Close() error {
	return nil
}

// postJSON sends payload as JSON and returns the body of a 200 response.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}
	return respBody, nil
}
