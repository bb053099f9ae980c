package scraper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

type ocrPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type ocrResponse struct {
	Pages []ocrPage `json:"pages"`
}

// OCRClient extracts PDF contents as markdown text via the Mistral OCR API.
type OCRClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

const mistralOCRURL = "https://api.mistral.ai/v1/ocr"

func NewOCRClient(apiKey string) *OCRClient {
	return &OCRClient{
		baseURL: mistralOCRURL,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

func (o *OCRClient) ExtractPDF(ctx context.Context, url string) (string, error) {
	if o.apiKey == "" {
		return "", fmt.Errorf("OCR API key is not set")
	}

	url = strings.Replace(url, "http://", "https://", 1)

	reqBody := map[string]interface{}{
		"model": "mistral-ocr-latest",
		"document": map[string]string{
			"type":         "document_url",
			"document_url": url,
		},
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL, bytes.NewBuffer(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	var parsed ocrResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("failed to unmarshal OCR response: %w", err)
	}

	var sb strings.Builder
	sb.WriteString("-----\n")
	fmt.Fprintf(&sb, "# URL: %s\n", url)
	sb.WriteString("-----\n\n")
	for _, page := range parsed.Pages {
		fmt.Fprintf(&sb, "- Page %d -\n", page.Index)
		sb.WriteString(page.Markdown + "\n\n")
	}
	return sb.String(), nil
}
