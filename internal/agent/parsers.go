package agent

import (
	"encoding/json"
	"strings"

	"github.com/ralph-tui/ralph-tui/internal/core"
)

// jsonEvent is a generic structure wide enough to decode the event shapes
// emitted by the agent CLIs this module targets (message_update,
// assistant, function, tool_use, tool_result, error, system).
type jsonEvent struct {
	Type string `json:"type"`
	Subtype string `json:"subtype"`

	Result string `json:"result"`
	Text string `json:"text"`
	Response string `json:"response"`

	Message *struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`

	Item *struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"item"`

	ToolName string `json:"tool_name"`
	ToolInput string `json:"tool_input"`
	Error string `json:"error"`
}

// parseJSONDisplayEvent translates one JSONL line into a normalized
// DisplayEvent. It returns ok=false for lines that aren't a recognized
// event shape, so the caller can fall back to treating the line as plain
// text.
func parseJSONDisplayEvent(line string) (core.DisplayEvent, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || !strings.HasPrefix(trimmed, "{") {
		return core.DisplayEvent{}, false
	}

	var ev jsonEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil {
		return core.DisplayEvent{}, false
	}

	switch {
	case ev.Type == "result" && ev.Subtype == "success":
		if ev.Result != "" {
			return core.DisplayEvent{Type: core.DisplayEventText, Content: ev.Result}, true
		}
		if ev.Response != "" {
			return core.DisplayEvent{Type: core.DisplayEventText, Content: ev.Response}, true
		}
	case ev.Type == "assistant" && ev.Message != nil:
		for _, c := range ev.Message.Content {
			if c.Type == "text" && c.Text != "" {
				return core.DisplayEvent{Type: core.DisplayEventText, Content: c.Text}, true
			}
		}
	case ev.Type == "text" && ev.Text != "":
		return core.DisplayEvent{Type: core.DisplayEventText, Content: ev.Text}, true
	case ev.Type == "item.completed" && ev.Item != nil && ev.Item.Type == "agent_message":
		if ev.Item.Text != "" {
			return core.DisplayEvent{Type: core.DisplayEventText, Content: ev.Item.Text}, true
		}
	case ev.Type == "tool_use":
		return core.DisplayEvent{Type: core.DisplayEventToolUse, Name: ev.ToolName, Input: ev.ToolInput}, true
	case ev.Type == "tool_result":
		return core.DisplayEvent{Type: core.DisplayEventToolResult, Name: ev.ToolName}, true
	case ev.Type == "error":
		msg := ev.Error
		if msg == "" {
			msg = ev.Result
		}
		return core.DisplayEvent{Type: core.DisplayEventError, Message: msg}, true
	case ev.Type == "system":
		return core.DisplayEvent{Type: core.DisplayEventSystem, Subtype: ev.Subtype}, true
	}

	return core.DisplayEvent{}, false
}
