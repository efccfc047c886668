package tasks

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
	"github.com/xiaot623/gogo/linkbox/internal/notify"
)

// Previewer generates a resource draft for a link.
type Previewer interface {
	Preview(ctx context.Context, url, note string) (*domain.ResourcePreview, error)
}

type previewStep struct {
	status   domain.TaskStatus
	progress int
	message  string
}

// previewSteps is the local progression shown before the real request.
var previewSteps = []previewStep{
	{domain.TaskStatusFetching, 20, "Fetching page"},
	{domain.TaskStatusProcessing, 50, "Analyzing content"},
	{domain.TaskStatusProcessing, 80, "Generating title, tags and digest"},
}

// PreviewRunner runs preview generation as background tasks.
type PreviewRunner struct {
	registry       *Registry
	client         Previewer
	stepDelay      time.Duration
	requestTimeout time.Duration
	sink           notify.Sink
	logger         *logger.Logger
	wg             sync.WaitGroup
}

// PreviewOptions tunes a PreviewRunner.
type PreviewOptions struct {
	StepDelay      time.Duration
	RequestTimeout time.Duration
	Sink           notify.Sink
	Logger         *logger.Logger
}

// NewPreviewRunner creates a runner that records its tasks in registry.
func NewPreviewRunner(registry *Registry, client Previewer, opts PreviewOptions) *PreviewRunner {
	if opts.Sink == nil {
		opts.Sink = notify.Discard
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	return &PreviewRunner{
		registry:       registry,
		client:         client,
		stepDelay:      opts.StepDelay,
		requestTimeout: opts.RequestTimeout,
		sink:           opts.Sink,
		logger:         opts.Logger.WithComponent("preview-runner"),
	}
}

// Start registers a preview task for link and runs it in the background.
// It returns the task id at once.
func (r *PreviewRunner) Start(ctx context.Context, link, note string) string {
	id := r.registry.AddTask(domain.TaskSpec{
		Title:   previewTitle(link),
		URL:     link,
		Status:  domain.TaskStatusPending,
		Message: "Queued",
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.run(ctx, id, link, note)
	}()
	return id
}

// Wait blocks until every started task has finished.
func (r *PreviewRunner) Wait() {
	r.wg.Wait()
}

func (r *PreviewRunner) run(ctx context.Context, id, link, note string) {
	log := r.logger.WithTaskID(id)

	for _, step := range previewSteps {
		r.registry.UpdateTask(id, domain.TaskUpdate{
			Status:   ptr(step.status),
			Progress: ptr(step.progress),
			Message:  ptr(step.message),
		})
		if err := sleep(ctx, r.stepDelay); err != nil {
			r.fail(ctx, id, link, "cancelled")
			return
		}
	}

	reqCtx := ctx
	if r.requestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, r.requestTimeout)
		defer cancel()
	}

	preview, err := r.client.Preview(reqCtx, link, note)
	if err != nil {
		msg := err.Error()
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			msg = "cancelled"
		}
		log.Warn("preview failed", zap.String("url", link), zap.Error(err))
		r.fail(ctx, id, link, msg)
		return
	}

	update := domain.TaskUpdate{
		Status:   ptr(domain.TaskStatusCompleted),
		Progress: ptr(100),
		Message:  ptr("Preview ready"),
		Result:   preview,
	}
	if preview.Title != "" {
		update.Title = ptr(preview.Title)
	}
	r.registry.UpdateTask(id, update)
	log.Info("preview ready", zap.String("url", link))
	notify.Success(context.WithoutCancel(ctx), r.sink, "Preview ready", previewTitle(link))
}

func (r *PreviewRunner) fail(ctx context.Context, id, link, msg string) {
	r.registry.UpdateTask(id, domain.TaskUpdate{
		Status:  ptr(domain.TaskStatusError),
		Message: ptr("Preview failed"),
		Error:   ptr(msg),
	})
	notify.Error(context.WithoutCancel(ctx), r.sink, "Preview failed", previewTitle(link)+": "+msg)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func previewTitle(link string) string {
	if u, err := url.Parse(link); err == nil && u.Host != "" {
		return "Preview " + u.Host
	}
	return "Preview " + link
}

func ptr[T any](v T) *T { return &v }
