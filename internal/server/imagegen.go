package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"canvas-relay/internal/config"
)

// imageClient talks to an OpenAI-style image API. A request either returns
// image bytes synchronously or a job id that is polled on a fixed interval
// until it succeeds, fails, or the attempt budget runs out. With no API key
// configured the client produces deterministic placeholder images so the
// service stays fully operable in development and tests.
type imageClient struct {
	apiKey       string
	model        string
	baseURL      string
	httpClient   *http.Client
	pollInterval time.Duration
	maxAttempts  int
	timeout      time.Duration
	logger       *logrus.Logger
}

func newImageClient(cfg config.Config, logger *logrus.Logger) *imageClient {
	timeout := time.Duration(cfg.ImageTimeoutSeconds) * time.Second
	return &imageClient{
		apiKey:       strings.TrimSpace(cfg.OpenAIAPIKey),
		model:        cfg.OpenAIImageModel,
		baseURL:      strings.TrimRight(cfg.OpenAIBaseURL, "/"),
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: time.Duration(cfg.ImagePollIntervalSeconds) * time.Second,
		maxAttempts:  cfg.ImagePollMaxAttempts,
		timeout:      timeout,
		logger:       logger,
	}
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Image  string `json:"image,omitempty"`
}

type imageResponse struct {
	JobID string `json:"job_id,omitempty"`
	Data  []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data,omitempty"`
	Status string `json:"status,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate produces an image from a prompt.
func (c *imageClient) Generate(ctx context.Context, prompt string) ([]byte, error) {
	if c.apiKey == "" {
		return placeholderImage(prompt, nil), nil
	}
	return c.submit(ctx, "/images/generations", imageRequest{
		Model:  c.model,
		Prompt: prompt,
	})
}

// Edit transforms an existing image according to a prompt.
func (c *imageClient) Edit(ctx context.Context, image []byte, prompt string) ([]byte, error) {
	if c.apiKey == "" {
		return placeholderImage(prompt, image), nil
	}
	return c.submit(ctx, "/images/edits", imageRequest{
		Model:  c.model,
		Prompt: prompt,
		Image:  base64.StdEncoding.EncodeToString(image),
	})
}

func (c *imageClient) submit(ctx context.Context, path string, req imageRequest) ([]byte, error) {
	// The call is detached from the caller's cancellation so a client
	// disconnect mid-turn does not abort a generation that the room will
	// still commit. The adapter's own timeout bounds the call instead.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
	defer cancel()

	parsed, err := c.post(ctx, path, req)
	if err != nil {
		return nil, err
	}
	if len(parsed.Data) > 0 {
		return decodeResult(parsed)
	}
	if parsed.JobID == "" {
		return nil, errExternal(causeUnavailable, "image service returned no result")
	}
	return c.poll(ctx, parsed.JobID)
}

// poll follows a job id until the remote reports success or failure, bounded
// by the attempt budget and the request deadline, whichever binds first.
func (c *imageClient) poll(ctx context.Context, jobID string) ([]byte, error) {
	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, errExternal(causeTimeout, "image generation timed out")
		case <-time.After(c.pollInterval):
		}

		parsed, err := c.get(ctx, "/images/jobs/"+jobID)
		if err != nil {
			return nil, err
		}
		switch parsed.Status {
		case "succeeded", "":
			if len(parsed.Data) > 0 {
				return decodeResult(parsed)
			}
		case "failed":
			message := "image generation failed"
			if parsed.Error != nil && parsed.Error.Message != "" {
				message = parsed.Error.Message
			}
			return nil, errExternal(causeBadRequest, message)
		}
	}
	return nil, errExternal(causeTimeout, "image generation timed out")
}

func (c *imageClient) post(ctx context.Context, path string, body imageRequest) (*imageResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, errExternal(causeBadRequest, "failed to build image request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, errExternal(causeBadRequest, "failed to build image request")
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req)
}

func (c *imageClient) get(ctx context.Context, path string) (*imageResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, errExternal(causeBadRequest, "failed to build image request")
	}
	return c.do(req)
}

func (c *imageClient) do(req *http.Request) (*imageResponse, error) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, errExternal(causeTimeout, "image generation timed out")
		}
		return nil, errExternal(causeUnavailable, "failed to reach image service")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errExternal(causeUnavailable, "failed to read image service response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, mapStatusError(resp.StatusCode, body)
	}
	var parsed imageResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errExternal(causeUnavailable, "failed to parse image service response")
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, errExternal(causeBadRequest, parsed.Error.Message)
	}
	return &parsed, nil
}

func mapStatusError(status int, body []byte) error {
	message := fmt.Sprintf("image service request failed (%d)", status)
	var parsed imageResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != nil && parsed.Error.Message != "" {
		message = parsed.Error.Message
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return errExternal(causeAuth, message)
	case status == http.StatusTooManyRequests:
		return errExternal(causeRateLimited, message)
	case status >= 400 && status < 500:
		return errExternal(causeBadRequest, message)
	default:
		return errExternal(causeUnavailable, message)
	}
}

func decodeResult(parsed *imageResponse) ([]byte, error) {
	decoded, err := base64.StdEncoding.DecodeString(parsed.Data[0].B64JSON)
	if err != nil {
		return nil, errExternal(causeUnavailable, "image service returned invalid image data")
	}
	if len(decoded) == 0 {
		return nil, errExternal(causeUnavailable, "image service returned no image data")
	}
	return decoded, nil
}

// placeholderImage renders a deterministic SVG embedding the prompt text.
// Used when no API credentials are configured; kept as a test and ops
// fallback, not an error path.
func placeholderImage(prompt string, input []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString(`<svg xmlns="http://www.w3.org/2000/svg" width="512" height="512">`)
	buf.WriteString(`<rect width="512" height="512" fill="#e9ecef"/>`)
	fmt.Fprintf(&buf, `<text x="16" y="48" font-size="18">%s</text>`, html.EscapeString(prompt))
	fmt.Fprintf(&buf, `<text x="16" y="496" font-size="10">input-bytes:%d</text>`, len(input))
	buf.WriteString(`</svg>`)
	return buf.Bytes()
}
