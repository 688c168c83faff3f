package engine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"genplane/internal/history"
)

const (
	defaultBaseURL     = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel       = "gemini-2.5-flash-image"
	defaultHTTPTimeout = 2 * time.Minute
	maxErrorBody       = 2048
)

// Config captures the settings required to talk to the model API.
type Config struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient calls a generateContent style REST endpoint.
type HTTPClient struct {
	cfg        Config
	httpClient *http.Client
}

// Option customizes the client.
type Option func(*HTTPClient)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// NewHTTPClient constructs a client using the supplied configuration.
func NewHTTPClient(cfg Config, opts ...Option) *HTTPClient {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.Model = strings.TrimSpace(cfg.Model)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}

	c := &HTTPClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type httpStatusError struct {
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("engine request: http %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type userContent struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	ImageConfig        *imageConfig `json:"imageConfig,omitempty"`
}

type generateRequest struct {
	Contents         []json.RawMessage `json:"contents"`
	GenerationConfig generationConfig  `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content      json.RawMessage `json:"content"`
		FinishReason string          `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Generate sends the conversation plus the new turn and returns the model's
// reply turn unmodified.
func (c *HTTPClient) Generate(ctx context.Context, req Request) (*Response, error) {
	if c.cfg.APIKey == "" {
		return nil, errors.New("engine generate: api key required")
	}

	body, err := c.buildRequest(req)
	if err != nil {
		return nil, err
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("engine generate: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("engine generate: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &httpStatusError{StatusCode: resp.StatusCode, Body: string(snippet)}
	}

	var parsed generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("engine generate: decode response: %w", err)
	}
	return parseResponse(parsed)
}

func (c *HTTPClient) buildRequest(req Request) ([]byte, error) {
	if err := req.History.Validate(); err != nil {
		return nil, err
	}

	contents := make([]json.RawMessage, 0, len(req.History)+1)
	for i, t := range req.History {
		var images []Image
		if i < len(req.HistoryImages) {
			images = req.HistoryImages[i]
		}
		converted, err := toWireTurn(t, images)
		if err != nil {
			return nil, err
		}
		contents = append(contents, converted)
	}

	current, err := toWireTurn(req.Turn, req.ReferenceImages)
	if err != nil {
		return nil, err
	}
	contents = append(contents, current)

	payload := generateRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
		},
	}
	if ratio := aspectRatio(req.Resolution); ratio != "" {
		payload.GenerationConfig.ImageConfig = &imageConfig{AspectRatio: ratio}
	}

	// Opaque turns must not have their string contents HTML-escaped.
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, fmt.Errorf("engine generate: encode request: %w", err)
	}
	return buf.Bytes(), nil
}

// toWireTurn rewrites our {"role":"user","text":...} turns into the parts
// form the API expects, with images inlined after the text. Any other turn
// goes out byte for byte.
func toWireTurn(t history.Turn, images []Image) (json.RawMessage, error) {
	var fields struct {
		Role   string           `json:"role"`
		Text   *string          `json:"text"`
		Parts  *json.RawMessage `json:"parts"`
		Images []string         `json:"images"`
	}
	if err := json.Unmarshal(t, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", history.ErrCorruptHistory, err)
	}

	if fields.Role != "user" || fields.Text == nil || fields.Parts != nil {
		if len(images) > 0 {
			return nil, errors.New("engine generate: reference images need a plain user turn")
		}
		return json.RawMessage(t), nil
	}
	if len(fields.Images) > 0 && len(fields.Images) != len(images) {
		return nil, fmt.Errorf("engine generate: turn refers to %d reference images, got %d", len(fields.Images), len(images))
	}

	content := userContent{Role: "user", Parts: []part{{Text: *fields.Text}}}
	for _, img := range images {
		content.Parts = append(content.Parts, part{InlineData: &inlineData{
			MimeType: img.MimeType,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}
	return json.Marshal(content)
}

func parseResponse(parsed generateResponse) (*Response, error) {
	if len(parsed.Candidates) == 0 {
		if parsed.PromptFeedback != nil && parsed.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("%w: prompt blocked (%s)", ErrNoImage, parsed.PromptFeedback.BlockReason)
		}
		return nil, fmt.Errorf("%w: no candidates", ErrNoImage)
	}

	candidate := parsed.Candidates[0]
	if len(candidate.Content) == 0 {
		return nil, fmt.Errorf("%w: empty content (finish_reason=%q)", ErrNoImage, candidate.FinishReason)
	}

	var content struct {
		Parts []part `json:"parts"`
	}
	if err := json.Unmarshal(candidate.Content, &content); err != nil {
		return nil, fmt.Errorf("engine generate: decode content: %w", err)
	}

	for _, p := range content.Parts {
		if p.InlineData == nil || p.InlineData.Data == "" {
			continue
		}
		data, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil {
			return nil, fmt.Errorf("engine generate: decode image: %w", err)
		}
		return &Response{
			Turn:     history.Turn(candidate.Content),
			Image:    data,
			MimeType: p.InlineData.MimeType,
		}, nil
	}
	return nil, fmt.Errorf("%w (finish_reason=%q)", ErrNoImage, candidate.FinishReason)
}

// aspectRatio turns "1920x1080" into "16:9". Unparseable input yields "".
func aspectRatio(resolution string) string {
	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(resolution)), "x")
	if !ok {
		return ""
	}
	width, err1 := strconv.Atoi(w)
	height, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || width <= 0 || height <= 0 {
		return ""
	}
	d := gcd(width, height)
	return fmt.Sprintf("%d:%d", width/d, height/d)
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
