package domain

import (
	"bytes"
	"encoding/json"
)

// Tool names the LinkBox agent can invoke.
const (
	ToolSearchResources = "search_resources"
	ToolPreviewResource = "preview_resource"
	ToolCreateResource  = "create_resource"
)

// SearchInput is the argument of search_resources.
type SearchInput struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// PreviewInput is the argument of preview_resource.
type PreviewInput struct {
	URL  string `json:"url"`
	Note string `json:"note,omitempty"`
}

// CreateResourceInput is the argument of create_resource.
type CreateResourceInput struct {
	URL    string   `json:"url"`
	Title  string   `json:"title"`
	Tags   []string `json:"tags"`
	Digest string   `json:"digest"`
}

// SearchHit is one summarized match returned to the model.
type SearchHit struct {
	Index       int    `json:"index"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Description string `json:"description"`
}

// SearchOutput is the result of search_resources.
type SearchOutput struct {
	Success bool        `json:"success"`
	Query   string      `json:"query"`
	Count   int         `json:"count"`
	Total   int         `json:"total,omitempty"`
	Results []SearchHit `json:"results,omitempty"`
	Message string      `json:"message,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// PreviewOutput is the result of preview_resource.
type PreviewOutput struct {
	Success bool     `json:"success"`
	URL     string   `json:"url,omitempty"`
	Title   string   `json:"title,omitempty"`
	Tags    []string `json:"tags,omitempty"`
	Digest  string   `json:"digest,omitempty"`
	Message string   `json:"message,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// CreateResourceOutput is the result of create_resource.
type CreateResourceOutput struct {
	Success    bool     `json:"success"`
	ResourceID int64    `json:"resource_id,omitempty"`
	Message    string   `json:"message,omitempty"`
	URL        string   `json:"url,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// ToolInput is the arguments of a tool call. Exactly one typed field is set
// for known tools whose payload decoded; Raw always holds the wire payload.
type ToolInput struct {
	Tool    string
	Search  *SearchInput
	Preview *PreviewInput
	Create  *CreateResourceInput
	Raw     json.RawMessage
}

// CompactRaw returns raw without insignificant whitespace, so a payload
// reads back byte-identical after a JSON round trip. Empty input and null
// become nil; invalid JSON is returned unchanged.
func CompactRaw(raw json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return raw
	}
	return json.RawMessage(buf.Bytes())
}

// DecodeToolInput builds the typed view of a tool_input payload.
func DecodeToolInput(tool string, raw json.RawMessage) ToolInput {
	raw = CompactRaw(raw)
	in := ToolInput{Tool: tool, Raw: raw}
	if len(raw) == 0 {
		return in
	}
	switch tool {
	case ToolSearchResources:
		var v SearchInput
		if json.Unmarshal(raw, &v) == nil {
			in.Search = &v
		}
	case ToolPreviewResource:
		var v PreviewInput
		if json.Unmarshal(raw, &v) == nil {
			in.Preview = &v
		}
	case ToolCreateResource:
		var v CreateResourceInput
		if json.Unmarshal(raw, &v) == nil {
			in.Create = &v
		}
	}
	return in
}

type toolPayloadJSON struct {
	Tool string          `json:"tool"`
	Raw  json.RawMessage `json:"raw,omitempty"`
	Text string          `json:"text,omitempty"`
}

// MarshalJSON stores the tool name with the wire payload so the typed view
// can be rebuilt on restore.
func (in ToolInput) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolPayloadJSON{Tool: in.Tool, Raw: in.Raw})
}

// UnmarshalJSON restores a ToolInput written by MarshalJSON.
func (in *ToolInput) UnmarshalJSON(data []byte) error {
	var w toolPayloadJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*in = DecodeToolInput(w.Tool, w.Raw)
	return nil
}

// ToolOutput is the result of a tool call. Tools reply with JSON encoded
// as a string; DecodeToolOutput unwraps it. Output that is not JSON is kept
// in Text.
type ToolOutput struct {
	Tool    string
	Search  *SearchOutput
	Preview *PreviewOutput
	Create  *CreateResourceOutput
	Text    string
	Raw     json.RawMessage
}

// DecodeToolOutput builds the typed view of a tool_output payload.
func DecodeToolOutput(tool string, raw json.RawMessage) ToolOutput {
	out := ToolOutput{Tool: tool}
	raw = CompactRaw(raw)
	if len(raw) == 0 {
		return out
	}

	payload := []byte(raw)
	var s string
	if json.Unmarshal(raw, &s) == nil {
		trimmed := bytes.TrimSpace([]byte(s))
		if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') || !json.Valid(trimmed) {
			out.Text = s
			return out
		}
		payload = CompactRaw(trimmed)
	}
	out.Raw = json.RawMessage(payload)

	switch tool {
	case ToolSearchResources:
		var v SearchOutput
		if json.Unmarshal(payload, &v) == nil {
			out.Search = &v
		}
	case ToolPreviewResource:
		var v PreviewOutput
		if json.Unmarshal(payload, &v) == nil {
			out.Preview = &v
		}
	case ToolCreateResource:
		var v CreateResourceOutput
		if json.Unmarshal(payload, &v) == nil {
			out.Create = &v
		}
	}
	return out
}

// Failure returns the error reported by the tool, if any.
func (out ToolOutput) Failure() (string, bool) {
	switch {
	case out.Search != nil && !out.Search.Success:
		return out.Search.Error, true
	case out.Preview != nil && !out.Preview.Success:
		return out.Preview.Error, true
	case out.Create != nil && !out.Create.Success:
		return out.Create.Error, true
	}
	return "", false
}

// MarshalJSON stores the unwrapped payload and the tool name.
func (out ToolOutput) MarshalJSON() ([]byte, error) {
	return json.Marshal(toolPayloadJSON{Tool: out.Tool, Raw: out.Raw, Text: out.Text})
}

// UnmarshalJSON restores a ToolOutput written by MarshalJSON.
func (out *ToolOutput) UnmarshalJSON(data []byte) error {
	var w toolPayloadJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Text != "" {
		*out = ToolOutput{Tool: w.Tool, Text: w.Text}
		return nil
	}
	*out = DecodeToolOutput(w.Tool, w.Raw)
	return nil
}
