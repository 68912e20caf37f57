package llm

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// ChatJSON sends a single-turn prompt and unmarshals the response into out.
// Models frequently wrap JSON in markdown code fences; those are stripped
// before decoding.
func ChatJSON(ctx context.Context, c Client, model string, maxTokens int64, system, prompt string, out any) error {
	resp, err := c.CreateMessage(ctx, MessageRequest{
		Model:     model,
		MaxTokens: maxTokens,
		System:    system,
		Messages:  []Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return err
	}

	text := StripCodeFence(resp.Text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return eris.Wrapf(err, "llm: decode response %q", truncate(text, 200))
	}
	return nil
}

// StripCodeFence removes a surrounding ```json ... ``` (or bare ```) fence.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
