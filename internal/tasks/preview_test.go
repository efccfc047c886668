package tasks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
	"github.com/xiaot623/gogo/linkbox/internal/notify"
)

type fakePreviewer struct {
	mu      sync.Mutex
	results map[string]*domain.ResourcePreview
	errs    map[string]error
	block   chan struct{}
}

func (f *fakePreviewer) Preview(ctx context.Context, url, _ string) (*domain.ResourcePreview, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[url]; err != nil {
		return nil, err
	}
	return f.results[url], nil
}

type sinkRecorder struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (s *sinkRecorder) Notify(_ context.Context, n notify.Notification) {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
}

func TestPreviewRunnerIndependentOutcomes(t *testing.T) {
	registry := NewRegistry()
	sink := &sinkRecorder{}
	client := &fakePreviewer{
		results: map[string]*domain.ResourcePreview{
			"https://go.dev": {Title: "The Go Programming Language", Tags: []string{"go"}, Digest: "d", URL: "https://go.dev"},
		},
		errs: map[string]error{"https://broken.example": errors.New("upstream timeout")},
	}
	runner := NewPreviewRunner(registry, client, PreviewOptions{
		StepDelay: time.Millisecond,
		Sink:      sink,
		Logger:    logger.NewNop(),
	})

	var seen []domain.ProgressTask
	var mu sync.Mutex
	registry.Subscribe(func(list []domain.ProgressTask) {
		mu.Lock()
		seen = append(seen, list...)
		mu.Unlock()
	})

	t1 := runner.Start(context.Background(), "https://go.dev", "")
	t2 := runner.Start(context.Background(), "https://broken.example", "note")
	runner.Wait()

	ok1, _ := registry.GetTask(t1)
	assert.Equal(t, domain.TaskStatusCompleted, ok1.Status)
	assert.Equal(t, 100, ok1.Progress)
	require.NotNil(t, ok1.Result)
	assert.Equal(t, "The Go Programming Language", ok1.Result.Title)
	assert.Equal(t, "The Go Programming Language", ok1.Title)

	bad, _ := registry.GetTask(t2)
	assert.Equal(t, domain.TaskStatusError, bad.Status)
	assert.Equal(t, "upstream timeout", bad.Error)
	assert.Equal(t, 80, bad.Progress)
	assert.Nil(t, bad.Result)

	mu.Lock()
	var steps []int
	for _, task := range seen {
		if task.ID == t1 {
			steps = append(steps, task.Progress)
		}
	}
	mu.Unlock()
	assert.Subset(t, steps, []int{0, 20, 50, 80, 100})

	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.got, 2)
	levels := []notify.Level{sink.got[0].Level, sink.got[1].Level}
	assert.ElementsMatch(t, []notify.Level{notify.LevelSuccess, notify.LevelError}, levels)
}

func TestPreviewRunnerCancelled(t *testing.T) {
	registry := NewRegistry()
	client := &fakePreviewer{block: make(chan struct{})}
	runner := NewPreviewRunner(registry, client, PreviewOptions{Logger: logger.NewNop()})

	ctx, cancel := context.WithCancel(context.Background())
	id := runner.Start(ctx, "https://go.dev", "")
	cancel()
	runner.Wait()

	task, ok := registry.GetTask(id)
	require.True(t, ok)
	assert.Equal(t, domain.TaskStatusError, task.Status)
	assert.Equal(t, "cancelled", task.Error)
}

func TestPreviewTitle(t *testing.T) {
	assert.Equal(t, "Preview go.dev", previewTitle("https://go.dev/doc"))
	assert.Equal(t, "Preview not a url", previewTitle("not a url"))
}
