package session

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
)

func intPtr(v int) *int { return &v }

func reduceAll(s AgentState, events ...domain.StreamEvent) AgentState {
	for _, ev := range events {
		s = Reduce(s, ev)
	}
	return s
}

func toolCall(name, input string) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.EventTypeToolCall, ToolName: name, ToolInput: json.RawMessage(input)}
}

func toolResult(name, output string) domain.StreamEvent {
	return domain.StreamEvent{Type: domain.EventTypeToolResult, ToolName: name, ToolOutput: json.RawMessage(output)}
}

func TestReduceThinkingThenResponse(t *testing.T) {
	s := reduceAll(NewAgentState(),
		domain.StreamEvent{Type: domain.EventTypeThinking, Content: "Let me "},
		domain.StreamEvent{Type: domain.EventTypeThinking, Content: "search"},
	)
	assert.Equal(t, "Let me search", s.CurrentThinking)

	s = reduceAll(s,
		domain.StreamEvent{Type: domain.EventTypeResponse, Content: "Found "},
		domain.StreamEvent{Type: domain.EventTypeResponse, Content: "3 links"},
	)
	assert.Empty(t, s.CurrentThinking)
	assert.Equal(t, "Found 3 links", s.FinalResponse)
	assert.True(t, s.IsStreaming)
}

func TestReduceToolStatusFollowsResult(t *testing.T) {
	s := reduceAll(NewAgentState(),
		toolCall(domain.ToolSearchResources, `{"query":"go"}`),
		toolCall(domain.ToolPreviewResource, `{"url":"https://x.com"}`),
		toolResult(domain.ToolSearchResources, `"{\"success\":true,\"count\":0}"`),
	)

	search := s.ToolCalls[domain.ToolSearchResources]
	assert.Equal(t, domain.ToolCallStatusCompleted, search.Status)
	require.NotNil(t, search.Output)
	require.NotNil(t, search.Output.Search)
	assert.True(t, search.Output.Search.Success)
	require.NotNil(t, search.Input.Search)
	assert.Equal(t, "go", search.Input.Search.Query)

	preview := s.ToolCalls[domain.ToolPreviewResource]
	assert.Equal(t, domain.ToolCallStatusCalling, preview.Status)
	assert.Nil(t, preview.Output)
}

func TestReduceToolResultWithoutCallIsIgnored(t *testing.T) {
	before := NewAgentState()
	after := Reduce(before, toolResult("search_resources", `"{}"`))
	assert.Empty(t, after.ToolCalls)
}

func TestReduceRepeatedToolCallOverwrites(t *testing.T) {
	s := reduceAll(NewAgentState(),
		toolCall(domain.ToolSearchResources, `{"query":"first"}`),
		toolResult(domain.ToolSearchResources, `"{\"success\":true}"`),
		toolCall(domain.ToolSearchResources, `{"query":"second"}`),
	)

	call := s.ToolCalls[domain.ToolSearchResources]
	assert.Equal(t, domain.ToolCallStatusCalling, call.Status)
	assert.Equal(t, "second", call.Input.Search.Query)
	assert.Nil(t, call.Output)
	assert.Equal(t, 2, call.Calls)
}

func TestReduceToolProgressIsIdempotent(t *testing.T) {
	ev := domain.StreamEvent{
		Type:     domain.EventTypeToolProgress,
		ToolName: domain.ToolSearchResources,
		Step:     "searching",
		Message:  "searching...",
		Progress: intPtr(40),
	}
	once := Reduce(NewAgentState(), ev)
	twice := Reduce(once, ev)

	assert.Equal(t, once, twice)
	assert.Len(t, twice.ToolProgress, 1)
}

func TestReduceToolProgressReplacesWholesale(t *testing.T) {
	s := reduceAll(NewAgentState(),
		domain.StreamEvent{Type: domain.EventTypeToolProgress, ToolName: "t", Step: "a", Progress: intPtr(10), Data: json.RawMessage(`{"k":1}`)},
		domain.StreamEvent{Type: domain.EventTypeToolProgress, ToolName: "t", Step: "b"},
	)
	p := s.ToolProgress["t"]
	assert.Equal(t, "b", p.Step)
	assert.Nil(t, p.Progress)
	assert.Nil(t, p.Data)
}

func TestReduceScenarioToolMapsAreIndependent(t *testing.T) {
	s := reduceAll(NewAgentState(),
		toolCall("search", `{}`),
		domain.StreamEvent{Type: domain.EventTypeToolProgress, ToolName: "search", Step: "searching", Progress: intPtr(40)},
		toolResult("search", `[{"id":1}]`),
	)

	assert.Equal(t, domain.ToolCallStatusCompleted, s.ToolCalls["search"].Status)
	require.NotNil(t, s.ToolProgress["search"].Progress)
	assert.Equal(t, 40, *s.ToolProgress["search"].Progress)
}

func TestReduceResourceReplacesList(t *testing.T) {
	s := reduceAll(NewAgentState(),
		domain.StreamEvent{Type: domain.EventTypeResource, Resources: []domain.Resource{{ID: 1}, {ID: 2}}},
		domain.StreamEvent{Type: domain.EventTypeResource, Resources: []domain.Resource{{ID: 3, Title: "Go"}}},
	)
	require.Len(t, s.Resources, 1)
	assert.Equal(t, int64(3), s.Resources[0].ID)

	s = Reduce(s, domain.StreamEvent{Type: domain.EventTypeResource})
	assert.Nil(t, s.Resources)

	s = Reduce(s, domain.StreamEvent{Type: domain.EventTypeResource, Resources: []domain.Resource{}})
	assert.Nil(t, s.Resources)
}

func TestReduceErrorIsTerminal(t *testing.T) {
	s := reduceAll(NewAgentState(),
		domain.StreamEvent{Type: domain.EventTypeResponse, Content: "partial"},
		domain.StreamEvent{Type: domain.EventTypeError, Error: "rate limited"},
	)
	assert.Equal(t, "rate limited", s.Error)
	assert.False(t, s.IsStreaming)
	assert.Equal(t, PhaseErrored, s.Phase)

	after := reduceAll(s,
		domain.StreamEvent{Type: domain.EventTypeDone},
		domain.StreamEvent{Type: domain.EventTypeResponse, Content: " more"},
	)
	assert.Equal(t, s, after)
}

func TestReduceErrorFallsBackToMessage(t *testing.T) {
	s := Reduce(NewAgentState(), domain.StreamEvent{Type: domain.EventTypeError, Message: "executor crashed"})
	assert.Equal(t, "executor crashed", s.Error)

	s = Reduce(NewAgentState(), domain.StreamEvent{Type: domain.EventTypeError})
	assert.Equal(t, "unknown error", s.Error)
}

func TestReduceToolErrorMarksCall(t *testing.T) {
	s := reduceAll(NewAgentState(),
		toolCall(domain.ToolPreviewResource, `{"url":"https://x.com"}`),
		domain.StreamEvent{Type: domain.EventTypeError, ToolName: domain.ToolPreviewResource, Error: "timeout"},
	)
	assert.Equal(t, domain.ToolCallStatusError, s.ToolCalls[domain.ToolPreviewResource].Status)
	assert.Equal(t, "timeout", s.Error)
}

func TestReduceDoneCompletes(t *testing.T) {
	s := Reduce(NewAgentState(), domain.StreamEvent{Type: domain.EventTypeDone})
	assert.Equal(t, PhaseCompleted, s.Phase)
	assert.False(t, s.IsStreaming)
	assert.Empty(t, s.Error)
}

func TestReduceUnknownTypeIgnored(t *testing.T) {
	before := Reduce(NewAgentState(), domain.StreamEvent{Type: domain.EventTypeThinking, Content: "x"})
	after := Reduce(before, domain.StreamEvent{Type: "citation", Content: "ignored"})
	assert.Equal(t, before, after)
}

func TestReduceDoesNotMutateInput(t *testing.T) {
	base := Reduce(NewAgentState(), toolCall("a", `{}`))
	snapshot := base.ToolCalls

	_ = Reduce(base, toolCall("b", `{}`))
	_ = Reduce(base, toolResult("a", `"ok"`))
	_ = Reduce(base, domain.StreamEvent{Type: domain.EventTypeToolProgress, ToolName: "a"})

	assert.Len(t, snapshot, 1)
	assert.Equal(t, domain.ToolCallStatusCalling, snapshot["a"].Status)
	assert.Empty(t, base.ToolProgress)
}

func TestCancelKeepsPartialOutput(t *testing.T) {
	s := reduceAll(NewAgentState(),
		domain.StreamEvent{Type: domain.EventTypeThinking, Content: "hmm"},
	)
	s = Cancel(s)
	assert.Equal(t, PhaseCancelled, s.Phase)
	assert.False(t, s.IsStreaming)
	assert.Empty(t, s.Error)
	assert.Equal(t, "hmm", s.CurrentThinking)

	assert.Equal(t, s, Fail(s, "late failure"))
	assert.Equal(t, s, Finish(s))
}

func TestStreamingIffNotTerminal(t *testing.T) {
	states := []AgentState{
		NewAgentState(),
		Finish(NewAgentState()),
		Fail(NewAgentState(), "x"),
		Cancel(NewAgentState()),
	}
	for _, s := range states {
		assert.Equal(t, !s.Terminal(), s.IsStreaming, "phase %s", s.Phase)
	}
}
