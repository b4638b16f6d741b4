package routing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/jbctechsolutions/mizan/config"
)

// ProviderCaller is the reference Caller implementation: it reaches each
// configured backend over HTTP using that backend's provider wire format.
// Supported providers are "anthropic", "openai_compat", and "ollama".
type ProviderCaller struct {
	cfg    *config.Config
	client *http.Client
}

// NewProviderCaller returns a ProviderCaller backed by http.DefaultClient.
// Timeouts come from the per-invocation context, not the client.
func NewProviderCaller(cfg *config.Config) *ProviderCaller {
	return &ProviderCaller{cfg: cfg, client: http.DefaultClient}
}

// InvokeBackend sends the analysis prompt to the named backend and decodes
// its reply into a RawResult. The reply must be a single JSON object with
// label, score, and optional confidence; anything else is an error the
// invoker will classify as invalid.
func (p *ProviderCaller) InvokeBackend(ctx context.Context, backendID, text string, tctx TaskContext) (RawResult, error) {
	backend, ok := p.cfg.GetBackend(backendID)
	if !ok {
		return RawResult{}, fmt.Errorf("unknown backend %q", backendID)
	}

	suffix := ""
	if backend.PromptSuffix != nil {
		suffix = *backend.PromptSuffix
	}
	system := buildSystemPrompt(tctx, suffix)

	var (
		resp *http.Response
		err  error
	)
	switch backend.Provider {
	case "anthropic":
		resp, err = p.callAnthropic(ctx, backend, system, text)
	case "openai_compat":
		resp, err = p.callOpenAICompat(ctx, backend, system, text)
	case "ollama":
		resp, err = p.callOllama(ctx, backend, system, text)
	default:
		return RawResult{}, fmt.Errorf("unknown provider %q for backend %q", backend.Provider, backendID)
	}
	if err != nil {
		return RawResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return RawResult{}, fmt.Errorf("reading %s response: %w", backendID, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return RawResult{}, fmt.Errorf("backend %s returned HTTP %d", backendID, resp.StatusCode)
	}

	content, err := extractContent(backend.Provider, body)
	if err != nil {
		return RawResult{}, fmt.Errorf("backend %s: %w", backendID, err)
	}

	return parseAnalysisJSON(content)
}

func (p *ProviderCaller) callAnthropic(ctx context.Context, backend config.Backend, system, text string) (*http.Response, error) {
	endpoint := "https://api.anthropic.com/v1/messages"
	if backend.BaseURL != "" {
		endpoint = strings.TrimRight(backend.BaseURL, "/") + "/v1/messages"
	}

	body := map[string]interface{}{
		"model":      backend.APIModel,
		"max_tokens": 512,
		"system":     system,
		"messages": []map[string]string{
			{"role": "user", "content": text},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling anthropic request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating anthropic request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", os.Getenv("ANTHROPIC_API_KEY"))
	req.Header.Set("anthropic-version", "2023-06-01")

	return p.client.Do(req)
}

func (p *ProviderCaller) callOpenAICompat(ctx context.Context, backend config.Backend, system, text string) (*http.Response, error) {
	endpoint := strings.TrimRight(backend.BaseURL, "/") + "/chat/completions"

	body := map[string]interface{}{
		"model":      backend.APIModel,
		"max_tokens": 512,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": text},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling openai_compat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating openai_compat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if key := resolveAPIKey(backend.BaseURL); key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}

	return p.client.Do(req)
}

func (p *ProviderCaller) callOllama(ctx context.Context, backend config.Backend, system, text string) (*http.Response, error) {
	endpoint := strings.TrimRight(backend.BaseURL, "/") + "/api/chat"

	body := map[string]interface{}{
		"model":  backend.APIModel,
		"stream": false,
		"messages": []map[string]string{
			{"role": "system", "content": system},
			{"role": "user", "content": text},
		},
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshalling ollama request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	return p.client.Do(req)
}

// resolveAPIKey picks the API key environment variable appropriate for an
// OpenAI-compatible base URL.
func resolveAPIKey(baseURL string) string {
	lower := strings.ToLower(baseURL)
	switch {
	case strings.Contains(lower, "groq"):
		return os.Getenv("GROQ_API_KEY")
	case strings.Contains(lower, "cerebras"):
		return os.Getenv("CEREBRAS_API_KEY")
	default:
		return os.Getenv("OPENAI_API_KEY")
	}
}

// extractContent pulls the assistant's text out of each provider's response
// envelope.
func extractContent(provider string, body []byte) (string, error) {
	switch provider {
	case "anthropic":
		var r struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return "", fmt.Errorf("decoding anthropic response: %w", err)
		}
		var sb strings.Builder
		for _, c := range r.Content {
			if c.Type == "text" {
				sb.WriteString(c.Text)
			}
		}
		return sb.String(), nil

	case "openai_compat":
		var r struct {
			Choices []struct {
				Message struct {
					Content string `json:"content"`
				} `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return "", fmt.Errorf("decoding openai_compat response: %w", err)
		}
		if len(r.Choices) == 0 {
			return "", fmt.Errorf("openai_compat response had no choices")
		}
		return r.Choices[0].Message.Content, nil

	case "ollama":
		var r struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		}
		if err := json.Unmarshal(body, &r); err != nil {
			return "", fmt.Errorf("decoding ollama response: %w", err)
		}
		return r.Message.Content, nil

	default:
		return "", fmt.Errorf("unknown provider %q", provider)
	}
}

// parseAnalysisJSON decodes the model's reply into a RawResult. Models often
// wrap JSON in code fences or prose, so the parser takes the substring from
// the first '{' to the last '}'.
func parseAnalysisJSON(content string) (RawResult, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end <= start {
		return RawResult{}, fmt.Errorf("no JSON object in backend reply")
	}

	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(content[start:end+1]), &payload); err != nil {
		return RawResult{}, fmt.Errorf("decoding backend reply: %w", err)
	}

	res := RawResult{}
	if label, ok := payload["label"].(string); ok {
		res.Label = label
	}
	if score, ok := payload["score"].(float64); ok {
		res.Score = score
	}
	if conf, ok := payload["confidence"].(float64); ok {
		res.Confidence = &conf
	}

	// Everything beyond the required fields rides along untouched.
	delete(payload, "label")
	delete(payload, "score")
	delete(payload, "confidence")
	if len(payload) > 0 {
		res.Extra = payload
	}

	return res, nil
}
