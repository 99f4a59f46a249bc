package llmclient

import (
	"bufio"
	"bytes"
	"context"
	"datachat/config"
	"datachat/web/types"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrContextWindowExceeded is returned when the model reports the prompt
// exceeds the available context size.
var ErrContextWindowExceeded = errors.New("context window exceeded")

type streamChoice struct {
	Delta struct {
		Content string `json:"content"`
	} `json:"delta"`
	Index int `json:"index"`
}

type streamResponse struct {
	Choices []streamChoice `json:"choices"`
}

type chatRequest struct {
	Messages    []wireMessage `json:"messages"`
	Stream      bool          `json:"stream"`
	Tools       []Tool        `json:"tools,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"` // Per-request temperature override
}

// wireMessage is the OpenAI-compatible message shape, a superset of
// types.AgentMessage that carries tool call plumbing.
type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message wireMessage `json:"message"`
	} `json:"choices"`
}

// Tool describes one callable function in the OpenAI tools schema.
type Tool struct {
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolExecutor runs a named tool with raw JSON arguments and returns the
// result text fed back to the model. Implementations return descriptive text
// for computation failures rather than an error, so the conversation can
// continue; a non-nil error aborts the tool loop.
type ToolExecutor interface {
	Execute(ctx context.Context, name string, args json.RawMessage) (string, error)
}

type imageRequest struct {
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size,omitempty"`
}

type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

type Client struct {
	cfg        *config.Config
	httpClient *http.Client
	logger     *zap.Logger
}

func New(cfg *config.Config, logger *zap.Logger) *Client {
	// Use a client with the configured timeout; streaming requests rely on context
	// cancellation or server closing the stream.
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.LLMRequestTimeout},
		logger:     logger,
	}
}

func toWire(messages []types.AgentMessage) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		out[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

// Chat performs a non-streaming chat completion call.
// temperature is optional; pass nil to use server default.
func (c *Client) Chat(ctx context.Context, host string, messages []types.AgentMessage, temperature *float64) (string, error) {
	reqBody := chatRequest{
		Messages:    toWire(messages),
		Stream:      false,
		Temperature: temperature,
	}
	msg, err := c.complete(ctx, host, reqBody)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

func (c *Client) complete(ctx context.Context, host string, reqBody chatRequest) (*wireMessage, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(host, "/"))

	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("create chat request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err = c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			// Do not retry on context cancellation/deadline
			if ctx.Err() != nil {
				break
			}
		} else if resp.StatusCode == http.StatusServiceUnavailable {
			// Model loading; retry with backoff
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			c.backoffSleep(attempt)
			continue
		} else {
			break
		}
	}
	if resp == nil {
		return nil, fmt.Errorf("no response from LLM server: %w", lastErr)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read chat response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if strings.Contains(string(bodyBytes), "exceeds the available context size") {
			return nil, ErrContextWindowExceeded
		}
		return nil, fmt.Errorf("llm server status %s: %s", resp.Status, string(bodyBytes))
	}

	var cr chatResponse
	if err := json.Unmarshal(bodyBytes, &cr); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("no response choices from llm server")
	}
	return &cr.Choices[0].Message, nil
}

// ChatStream performs a streaming chat completion call and returns a channel of chunks.
// temperature is optional; pass nil to use server default.
func (c *Client) ChatStream(ctx context.Context, host string, messages []types.AgentMessage, temperature *float64) (<-chan string, error) {
	reqBody := chatRequest{
		Messages:    toWire(messages),
		Stream:      true,
		Temperature: temperature,
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/chat/completions", strings.TrimRight(host, "/"))
	out := make(chan string)

	go func() {
		defer close(out)

		var resp *http.Response
		// retry loop for model loading/unavailable
		for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
			req, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
			if reqErr != nil {
				c.logger.Error("create chat stream request", zap.Error(reqErr))
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Accept", "text/event-stream")

			r, err := c.httpClient.Do(req)
			if err != nil {
				if ctx.Err() != nil {
					// context canceled/deadline; just exit
					return
				}
				c.logger.Error("send chat stream request", zap.Error(err))
				return
			}

			if r.StatusCode == http.StatusServiceUnavailable {
				// backoff and retry
				io.Copy(io.Discard, r.Body)
				r.Body.Close()
				c.logger.Warn("LLM service unavailable, retrying", zap.Int("attempt", attempt+1))
				c.backoffSleep(attempt)
				continue
			}

			resp = r
			break
		}

		if resp == nil {
			c.logger.Error("no response received after retries for stream")
			return
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			bodyBytes, _ := io.ReadAll(resp.Body)
			bodyString := string(bodyBytes)
			if strings.Contains(bodyString, "exceeds the available context size") {
				c.logger.Error("context window exceeded", zap.String("response", bodyString))
			} else {
				c.logger.Error("LLM server non-200 for stream", zap.String("status", resp.Status), zap.String("response", bodyString))
			}
			return
		}

		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			line := scanner.Text()
			if !strings.HasPrefix(line, "data: ") {
				continue
			}
			data := strings.TrimPrefix(line, "data: ")
			if data == "[DONE]" {
				break
			}
			var sr streamResponse
			if err := json.Unmarshal([]byte(data), &sr); err != nil {
				continue
			}
			if len(sr.Choices) == 0 {
				continue
			}
			if chunk := sr.Choices[0].Delta.Content; chunk != "" {
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			c.logger.Error("read chat stream", zap.Error(err))
		}
	}()

	return out, nil
}

// ToolCallObserver is invoked after each executed tool call with the raw
// arguments and the result text. Optional; pass nil to skip.
type ToolCallObserver func(name string, args json.RawMessage, result string)

// ChatWithTools runs a tool-calling conversation: the model may respond with
// tool calls, which are executed through exec and fed back until the model
// produces a plain answer or maxTurns is reached.
func (c *Client) ChatWithTools(ctx context.Context, host string, messages []types.AgentMessage, tools []Tool, exec ToolExecutor, observe ToolCallObserver) (string, error) {
	wire := toWire(messages)
	maxTurns := c.cfg.MaxToolTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}

	for turn := 0; turn < maxTurns; turn++ {
		msg, err := c.complete(ctx, host, chatRequest{Messages: wire, Tools: tools})
		if err != nil {
			return "", err
		}
		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		wire = append(wire, *msg)
		for _, call := range msg.ToolCalls {
			args := json.RawMessage(call.Function.Arguments)
			result, err := exec.Execute(ctx, call.Function.Name, args)
			if err != nil {
				return "", fmt.Errorf("execute tool %s: %w", call.Function.Name, err)
			}
			if observe != nil {
				observe(call.Function.Name, args, result)
			}
			wire = append(wire, wireMessage{
				Role:       "tool",
				Content:    result,
				ToolCallID: call.ID,
			})
		}
	}
	return "", fmt.Errorf("tool conversation did not settle within %d turns", maxTurns)
}

// GenerateImage calls the OpenAI-compatible image endpoint and returns the
// decoded image bytes.
func (c *Client) GenerateImage(ctx context.Context, host string, promptText string) ([]byte, error) {
	reqBody := imageRequest{Prompt: promptText, N: 1}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal image request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/images/generations", strings.TrimRight(host, "/"))
	var resp *http.Response
	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
		if err != nil {
			return nil, fmt.Errorf("create image request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		r, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}

		if r.StatusCode == http.StatusServiceUnavailable {
			io.Copy(io.Discard, r.Body)
			r.Body.Close()
			c.logger.Warn("Image model loading, retrying")
			c.backoffSleep(attempt)
			continue
		}

		resp = r
		break
	}
	if resp == nil {
		return nil, fmt.Errorf("no response from image server: %w", lastErr)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read image response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image server status %s: %s", resp.Status, string(bodyBytes))
	}

	var ir imageResponse
	if err := json.Unmarshal(bodyBytes, &ir); err != nil {
		return nil, fmt.Errorf("decode image response: %w", err)
	}
	if len(ir.Data) == 0 || ir.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("image response was empty")
	}
	raw, err := base64.StdEncoding.DecodeString(ir.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %w", err)
	}
	return raw, nil
}

func (c *Client) backoffSleep(attempt int) {
	// Exponential backoff with configurable jitter and cap
	base := c.cfg.RetryDelaySeconds
	if base <= 0 {
		base = time.Second // config normalization should prevent this
	}
	d := base * time.Duration(1<<attempt)
	maxWait := c.cfg.LLMBackoffMaxSeconds
	if maxWait > 0 && d > maxWait {
		d = maxWait
	}
	jitterRatio := c.cfg.LLMBackoffJitterRatio
	if jitterRatio < 0 || jitterRatio > 1 {
		jitterRatio = 0.1
	}
	jitter := time.Duration(float64(d) * jitterRatio)
	time.Sleep(d - jitter + time.Duration(time.Now().UnixNano()%int64(2*jitter+1)))
}
