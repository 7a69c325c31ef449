package services

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/planforge/planforge-backend/internal/apierr"
	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/utils"
)

// ChatTurn is one role-tagged entry of the conversation history sent to the
// completion API, in creation order.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionClient wraps the chat-completions API. It is stateless: the
// caller owns the history and persists the assistant turn afterwards.
type CompletionClient interface {
	// Complete sends the full history and returns the assistant text.
	Complete(ctx context.Context, history []ChatTurn) (string, error)
	// Stream sends the full history with streaming enabled, forwarding each
	// text fragment to onDelta as it arrives. It returns the concatenation
	// of every fragment received, including when the stream ended early
	// because of a malformed frame or a detached consumer.
	Stream(ctx context.Context, history []ChatTurn, onDelta func(delta string)) (string, error)
	// Model reports the configured model name, for call logging.
	Model() string
}

type completionClient struct {
	log         *logger.Logger
	baseURL     string
	apiKey      string
	heliconeKey string
	model       string
	httpClient  *http.Client
}

func NewCompletionClient(log *logger.Logger) (CompletionClient, error) {
	apiKey := utils.GetEnv("LLM_API_KEY", "", log)
	if apiKey == "" {
		return nil, fmt.Errorf("missing LLM_API_KEY")
	}
	baseURL := utils.GetEnv("LLM_BASE_URL", "https://api.together.xyz", log)
	model := utils.GetEnv("LLM_MODEL", "meta-llama/Meta-Llama-3.1-8B-Instruct-Turbo", log)
	heliconeKey := utils.GetEnv("HELICONE_API_KEY", "", log)
	timeoutSec := utils.GetEnvAsInt("LLM_TIMEOUT_SECONDS", 180, log)

	return &completionClient{
		log:         log.With("service", "CompletionClient"),
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		heliconeKey: heliconeKey,
		model:       model,
		httpClient:  &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
	}, nil
}

func (c *completionClient) Model() string { return c.model }

type chatCompletionRequest struct {
	Model    string     `json:"model"`
	Stream   bool       `json:"stream"`
	Messages []ChatTurn `json:"messages"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type chatCompletionChunk struct {
	Choices []struct {
		Text  string `json:"text"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

func (c *completionClient) newRequest(ctx context.Context, history []ChatTurn, stream bool) (*http.Request, error) {
	payload := chatCompletionRequest{
		Model:    c.model,
		Stream:   stream,
		Messages: history,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.heliconeKey != "" {
		req.Header.Set("Helicone-Auth", "Bearer "+c.heliconeKey)
	}
	return req, nil
}

func (c *completionClient) Complete(ctx context.Context, history []ChatTurn) (string, error) {
	req, err := c.newRequest(ctx, history, false)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("Completion request failed", "error", err)
		return "", apierr.Upstream(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		c.log.Error("Completion request returned non-2xx", "status", resp.StatusCode)
		return "", apierr.Upstream(fmt.Errorf("completion api %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", apierr.Upstream(fmt.Errorf("decode completion response: %w", err))
	}
	if len(decoded.Choices) == 0 {
		return "", apierr.Upstream(fmt.Errorf("completion response has no choices"))
	}
	return decoded.Choices[0].Message.Content, nil
}

func (c *completionClient) Stream(ctx context.Context, history []ChatTurn, onDelta func(delta string)) (string, error) {
	req, err := c.newRequest(ctx, history, true)
	if err != nil {
		return "", err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Error("Streaming completion request failed", "error", err)
		return "", apierr.Upstream(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", apierr.Upstream(fmt.Errorf("completion api %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}

	var accumulated strings.Builder
	br := bufio.NewReader(resp.Body)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				c.log.Warn("Stream ended abnormally, keeping accumulated text", "error", err)
			}
			break
		}
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")
		if data == "[DONE]" {
			break
		}

		var chunk chatCompletionChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			// Malformed frame ends the stream; what accumulated so far is
			// still handed back for a best-effort save.
			break
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			delta = chunk.Choices[0].Text
		}
		if delta == "" {
			continue
		}
		accumulated.WriteString(delta)
		if onDelta != nil && ctx.Err() == nil {
			onDelta(delta)
		}
	}
	return accumulated.String(), nil
}
