package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/doclens/backend/internal/session"
)

// GeminiClient analyzes text through the Gemini generateContent API.
type GeminiClient struct {
	baseURL         string
	model           string
	apiKey          string
	temperature     float64
	maxOutputTokens int
	client          *http.Client
}

func NewGeminiClient(baseURL, model, apiKey string, temperature float64, maxOutputTokens int, timeout time.Duration) *GeminiClient {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = "gemini-pro"
	}
	if maxOutputTokens <= 0 {
		maxOutputTokens = 1024
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &GeminiClient{
		baseURL:         baseURL,
		model:           model,
		apiKey:          apiKey,
		temperature:     temperature,
		maxOutputTokens: maxOutputTokens,
		client:          &http.Client{Timeout: timeout},
	}
}

const directPrompt = `Analyze the following text thoroughly and provide insights:
%s

Please structure your response with the following sections:
1. Key Points
2. Entities Identified
3. Potential Concerns
4. Recommendations`

const augmentedPrompt = `You are a contract analysis assistant. Analyze the following text thoroughly.

User Text: %s

Related Context:
%s

Using the user text and the related context, provide a comprehensive analysis with the following sections:
1. Key Points
2. Related Information (from context)
3. Entities Identified
4. Potential Concerns
5. Recommendations`

func (c *GeminiClient) AnalyzeDirect(ctx context.Context, text string) (*Analysis, error) {
	return c.generate(ctx, fmt.Sprintf(directPrompt, text))
}

func (c *GeminiClient) AnalyzeWithContext(ctx context.Context, text string, docs []Document) (*Analysis, error) {
	var b strings.Builder
	for _, doc := range docs {
		fmt.Fprintf(&b, "Document ID: %s\nContent: %s\n---\n", doc.ID, doc.Text)
	}
	return c.generate(ctx, fmt.Sprintf(augmentedPrompt, text, b.String()))
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
	UsageMetadata session.Usage `json:"usageMetadata"`
	Error         *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *GeminiClient) generate(ctx context.Context, prompt string) (*Analysis, error) {
	payload := generateRequest{
		Contents: []content{{Parts: []part{{Text: prompt}}}},
		GenerationConfig: generationConfig{
			Temperature:     c.temperature,
			MaxOutputTokens: c.maxOutputTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("analyze text with gemini: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("analyze text with gemini: %w", err)
	}

	var out generateResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("analyze text with gemini: malformed response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if out.Error != nil && out.Error.Message != "" {
			return nil, fmt.Errorf("analyze text with gemini: %s", out.Error.Message)
		}
		return nil, fmt.Errorf("analyze text with gemini: status %d", resp.StatusCode)
	}
	if len(out.Candidates) == 0 {
		return nil, fmt.Errorf("analyze text with gemini: no candidates in response")
	}

	var parts []string
	for _, p := range out.Candidates[0].Content.Parts {
		parts = append(parts, p.Text)
	}
	raw := strings.Join(parts, "\n")

	return &Analysis{
		Sections: parseSections(raw),
		RawText:  raw,
		Usage:    out.UsageMetadata,
	}, nil
}

var sectionMarkers = []string{
	"Key Points",
	"Related Information",
	"Entities Identified",
	"Potential Concerns",
	"Recommendations",
}

var numberedHeading = regexp.MustCompile(`^\s*\d+\.\s*`)

// parseSections splits the generated text into the numbered sections the
// prompt asked for. Lines before the first marker are discarded.
func parseSections(text string) map[string]string {
	sections := make(map[string]string)
	var current string
	var lines []string

	flush := func() {
		if current != "" {
			sections[current] = strings.TrimSpace(strings.Join(lines, "\n"))
			lines = nil
		}
	}

	for _, line := range strings.Split(text, "\n") {
		marker := matchMarker(line)
		if marker != "" {
			flush()
			current = marker
			continue
		}
		if current != "" && strings.TrimSpace(line) != "" {
			lines = append(lines, line)
		}
	}
	flush()

	return sections
}

func matchMarker(line string) string {
	stripped := numberedHeading.ReplaceAllString(line, "")
	for _, m := range sectionMarkers {
		if strings.Contains(stripped, m) {
			return m
		}
	}
	return ""
}
