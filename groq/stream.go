package groq

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// chatStreamEvent is one parsed SSE data event from the chat endpoint.
type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// StreamChat issues a streaming chat completion and invokes onChunk for
// every non-empty content delta, in arrival order. It returns the full
// accumulated response text once the stream ends.
//
// Individual malformed data events are logged and skipped; they do not
// abort the stream. HTTP and transport failures do.
func (c *Client) StreamChat(ctx context.Context, req *ChatRequest, onChunk func(chunk string)) (string, error) {
	model := req.Model
	if model == "" {
		model = DefaultChatModel
	}

	wire := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		wire = append(wire, m.toWire())
	}

	payload, err := json.Marshal(map[string]any{
		"model":    model,
		"messages": wire,
		"stream":   true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal chat request: %w", err)
	}

	url := c.baseURL + "/openai/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	if c.debug {
		fmt.Printf("[DEBUG] POST %s (model %s, %d messages)\n", url, model, len(wire))
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("chat stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", parseAPIError(resp.StatusCode, body)
	}

	var accumulated strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue // event separators and comment lines
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			break
		}

		var event chatStreamEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			if c.debug {
				fmt.Printf("[DEBUG] Skipping malformed stream event: %v\n", err)
			}
			continue
		}
		if len(event.Choices) == 0 {
			continue
		}
		if delta := event.Choices[0].Delta.Content; delta != "" {
			accumulated.WriteString(delta)
			if onChunk != nil {
				onChunk(delta)
			}
		}
		if c.debug && event.Choices[0].FinishReason != "" {
			fmt.Printf("[DEBUG] Stream finished with reason: %s\n", event.Choices[0].FinishReason)
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("chat stream interrupted: %w", err)
	}

	return accumulated.String(), nil
}
