package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emberlab/hearth/internal/providers"
)

// ExtractToolCalls scans assistant text for an embedded JSON tool-call
// object (first '{' to last '}'). Models without native tool-call support
// tend to emit these shapes inline. On a hit it returns the calls plus the
// surrounding text peeled off as a preamble.
func ExtractToolCalls(content string) ([]providers.ToolCall, string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, "", false
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(content[start:end+1]), &obj); err != nil {
		return nil, "", false
	}

	calls := parseToolCallShape(obj)
	if len(calls) == 0 {
		return nil, "", false
	}

	preamble := strings.TrimSpace(content[:start] + content[end+1:])
	return calls, preamble, true
}

// parseToolCallShape recognizes the tool-call forms models actually emit:
// a "tool_calls" array, a single {"tool": name, "arguments": {...}}, a
// single {"action": name, ...args}, or a bare file operation keyed by
// "file_path".
func parseToolCallShape(obj map[string]interface{}) []providers.ToolCall {
	if raw, ok := obj["tool_calls"].([]interface{}); ok {
		var calls []providers.ToolCall
		for i, item := range raw {
			entry, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			name := stringKey(entry, "name", "tool", "action")
			if name == "" {
				continue
			}
			calls = append(calls, providers.ToolCall{
				ID:        embeddedCallID(i),
				Name:      name,
				Arguments: argumentsOf(entry),
			})
		}
		return calls
	}

	if name := stringKey(obj, "tool"); name != "" {
		return []providers.ToolCall{{
			ID:        embeddedCallID(0),
			Name:      name,
			Arguments: argumentsOf(obj),
		}}
	}

	if name := stringKey(obj, "action"); name != "" {
		args := make(map[string]interface{}, len(obj))
		for k, v := range obj {
			if k != "action" {
				args[k] = v
			}
		}
		return []providers.ToolCall{{
			ID:        embeddedCallID(0),
			Name:      name,
			Arguments: args,
		}}
	}

	if _, ok := obj["file_path"]; ok {
		return []providers.ToolCall{{
			ID:        embeddedCallID(0),
			Name:      "read_file",
			Arguments: obj,
		}}
	}

	return nil
}

// argumentsOf pulls the argument object from "arguments"/"args", falling
// back to the remaining keys of the entry itself.
func argumentsOf(entry map[string]interface{}) map[string]interface{} {
	for _, key := range []string{"arguments", "args", "parameters", "input"} {
		if m, ok := entry[key].(map[string]interface{}); ok {
			return m
		}
	}
	args := make(map[string]interface{})
	for k, v := range entry {
		switch k {
		case "id", "name", "tool", "action", "type", "arguments", "args", "parameters", "input":
		default:
			args[k] = v
		}
	}
	return args
}

func stringKey(obj map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if s, ok := obj[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func embeddedCallID(i int) string {
	return fmt.Sprintf("embedded_call_%d", i)
}
