package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// RetrievalClient talks to the retrieval service's HTTP API
// (/index, /query, /health).
type RetrievalClient struct {
	baseURL      string
	probeTimeout time.Duration
	client       *http.Client
}

func NewRetrievalClient(baseURL string, probeTimeout time.Duration) *RetrievalClient {
	if probeTimeout <= 0 {
		probeTimeout = 2 * time.Second
	}
	return &RetrievalClient{
		baseURL:      baseURL,
		probeTimeout: probeTimeout,
		client:       &http.Client{Timeout: 30 * time.Second},
	}
}

type indexRequest struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type indexResponse struct {
	Status string `json:"status"`
	DocID  string `json:"doc_id"`
}

func (c *RetrievalClient) IndexDocument(ctx context.Context, text string, metadata map[string]any) (string, error) {
	var resp indexResponse
	err := c.post(ctx, "/index", indexRequest{Text: text, Metadata: metadata}, &resp)
	if err != nil {
		return "", fmt.Errorf("index document: %w", err)
	}
	return resp.DocID, nil
}

type healthResponse struct {
	Status string `json:"status"`
}

// ProbeAvailable checks the retrieval service's health endpoint. The probe
// is bounded by probeTimeout so the decision to fall back never stalls the
// pipeline.
func (c *RetrievalClient) ProbeAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, c.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		log.Printf("retrieval health check failed: %v", err)
		return false
	}
	defer resp.Body.Close()

	var health healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false
	}
	return health.Status == "ok"
}

type queryRequest struct {
	Text      string `json:"text"`
	K         int    `json:"k"`
	UseHybrid bool   `json:"use_hybrid"`
}

type queryResponse struct {
	Results []struct {
		ID       string         `json:"id"`
		Text     string         `json:"text"`
		Distance float64        `json:"distance"`
		Metadata map[string]any `json:"metadata"`
	} `json:"results"`
}

func (c *RetrievalClient) Query(ctx context.Context, text string, k int, hybrid bool) ([]Document, error) {
	var resp queryResponse
	err := c.post(ctx, "/query", queryRequest{Text: text, K: k, UseHybrid: hybrid}, &resp)
	if err != nil {
		return nil, fmt.Errorf("query retrieval: %w", err)
	}

	docs := make([]Document, len(resp.Results))
	for i, r := range resp.Results {
		docs[i] = Document{
			ID:       r.ID,
			Text:     r.Text,
			Score:    r.Distance,
			Metadata: r.Metadata,
		}
	}
	return docs, nil
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func (c *RetrievalClient) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		var e errorResponse
		if json.Unmarshal(data, &e) == nil && e.Detail != "" {
			return fmt.Errorf("retrieval service: %s", e.Detail)
		}
		return fmt.Errorf("retrieval service: status %d", resp.StatusCode)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
