package mockagent

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"
)

// Frame is one scripted stream frame, written as JSON.
type Frame map[string]any

// PreviewScript describes how the preview endpoint answers.
type PreviewScript struct {
	Title  string   `yaml:"title"`
	Tags   []string `yaml:"tags"`
	Digest string   `yaml:"digest"`
	// FailHosts makes previews of these hosts fail with 502.
	FailHosts []string `yaml:"fail_hosts"`
	// Policy is a Rego module defining data.preview_policy.decision.
	// Empty uses DefaultPreviewPolicy.
	Policy string `yaml:"policy"`
}

// Scenario scripts the mock server's replies. String values may contain
// {{input}}, replaced by the latest user message.
type Scenario struct {
	Agent   []Frame       `yaml:"agent"`
	Chat    []Frame       `yaml:"chat"`
	Preview PreviewScript `yaml:"preview"`
}

// DefaultScenario exercises every agent frame type.
func DefaultScenario() *Scenario {
	return &Scenario{
		Agent: []Frame{
			{"type": "thinking", "content": "Looking through your saved links "},
			{"type": "thinking", "content": "for \"{{input}}\"..."},
			{"type": "tool_call", "tool_name": "search_resources", "tool_input": map[string]any{"query": "{{input}}", "limit": 5}},
			{"type": "tool_progress", "tool_name": "search_resources", "step": "searching", "message": "Searching saved resources", "progress": 40},
			{"type": "tool_progress", "tool_name": "search_resources", "step": "ranking", "message": "Ranking matches", "progress": 90},
			{"type": "tool_result", "tool_name": "search_resources", "tool_output": `{"success": true, "query": "{{input}}", "count": 1, "results": [{"index": 1, "title": "The Go Programming Language", "url": "https://go.dev", "description": "Go is an open source programming language."}]}`},
			{"type": "resource", "resources": []any{
				map[string]any{"id": 1, "title": "The Go Programming Language", "url": "https://go.dev", "digest": "Go is an open source programming language.", "tags": []any{"go", "language"}},
			}},
			{"type": "response", "content": "I found 1 saved link matching "},
			{"type": "response", "content": "\"{{input}}\": The Go Programming Language (https://go.dev)."},
			{"type": "done"},
		},
		Chat: []Frame{
			{"type": "progress", "content": "Thinking about \"{{input}}\""},
			{"type": "content", "content": "You said: "},
			{"type": "content", "content": "{{input}}"},
			{"type": "done"},
		},
		Preview: PreviewScript{
			Title:  "Preview of {{input}}",
			Tags:   []string{"bookmark", "reading"},
			Digest: "A generated summary of {{input}}.",
		},
	}
}

// LoadScenario reads a YAML scenario file. Sections missing from the file
// fall back to the default scenario.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes a YAML scenario.
func ParseScenario(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("failed to parse scenario: %w", err)
	}

	def := DefaultScenario()
	if len(sc.Agent) == 0 {
		sc.Agent = def.Agent
	}
	if len(sc.Chat) == 0 {
		sc.Chat = def.Chat
	}
	if sc.Preview.Title == "" && sc.Preview.Digest == "" {
		sc.Preview = PreviewScript{
			Title:     def.Preview.Title,
			Tags:      def.Preview.Tags,
			Digest:    def.Preview.Digest,
			FailHosts: sc.Preview.FailHosts,
			Policy:    sc.Preview.Policy,
		}
	}

	for i, f := range slices.Concat(sc.Agent, sc.Chat) {
		if _, ok := f["type"].(string); !ok {
			return nil, fmt.Errorf("frame %d: missing type", i)
		}
	}
	return &sc, nil
}

// render returns a copy of frames with {{input}} substituted.
func render(frames []Frame, input string) []Frame {
	out := make([]Frame, len(frames))
	for i, f := range frames {
		out[i] = substitute(map[string]any(f), input).(map[string]any)
	}
	return out
}

func substitute(v any, input string) any {
	switch t := v.(type) {
	case string:
		return strings.ReplaceAll(t, "{{input}}", input)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = substitute(val, input)
		}
		return m
	case Frame:
		return substitute(map[string]any(t), input)
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = substitute(val, input)
		}
		return s
	default:
		return v
	}
}
