// Package mockagent is a development stand-in for the LinkBox API. It
// serves scripted agent and chat streams and canned previews so the client
// can be exercised end to end.
package mockagent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/xiaot623/gogo/linkbox/internal/domain"
	"github.com/xiaot623/gogo/linkbox/internal/logger"
)

// Options configures the mock server.
type Options struct {
	JWTSecret  string
	FrameDelay time.Duration
	Scenario   *Scenario
	Logger     *logger.Logger
}

// Handler serves the mock endpoints.
type Handler struct {
	secret     string
	frameDelay time.Duration
	scenario   *Scenario
	policy     *previewPolicy
	logger     *logger.Logger
}

// NewHandler creates a Handler; a nil scenario uses DefaultScenario. It
// fails when the scenario's preview policy does not compile.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Scenario == nil {
		opts.Scenario = DefaultScenario()
	}
	if opts.Logger == nil {
		opts.Logger = logger.Default()
	}
	policy, err := newPreviewPolicy(context.Background(), opts.Scenario.Preview.Policy)
	if err != nil {
		return nil, fmt.Errorf("preview policy: %w", err)
	}
	return &Handler{
		secret:     opts.JWTSecret,
		frameDelay: opts.FrameDelay,
		scenario:   opts.Scenario,
		policy:     policy,
		logger:     opts.Logger.WithComponent("mockagent"),
	}, nil
}

// NewServer creates the echo server with all routes registered.
func NewServer(opts Options) (*echo.Echo, error) {
	h, err := NewHandler(opts)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogMethod:  true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			h.logger.Info("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	h.RegisterRoutes(e)
	return e, nil
}

// RegisterRoutes registers the mock API routes.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/health", h.Health)

	g := e.Group("", requireAuth(h.secret))
	g.POST("/ai/chat/agent", h.ChatAgent)
	g.POST("/ai/chat/stream", h.ChatStream)
	g.POST("/resources/preview", h.Preview)
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// ChatAgent streams the scripted agent frames.
// POST /ai/chat/agent
func (h *Handler) ChatAgent(c echo.Context) error {
	return h.stream(c, h.scenario.Agent)
}

// ChatStream streams the scripted simple chat frames.
// POST /ai/chat/stream
func (h *Handler) ChatStream(c echo.Context) error {
	return h.stream(c, h.scenario.Chat)
}

func (h *Handler) stream(c echo.Context, script []Frame) error {
	var req domain.StreamRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: "invalid request body"})
	}
	if len(req.Messages) == 0 {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: "message list must not be empty"})
	}
	input := req.Messages[len(req.Messages)-1].Content

	w := newSSEWriter(c.Response())
	if w == nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Detail: "streaming not supported"})
	}
	w.sendComment("stream open")

	ctx := c.Request().Context()
	for _, frame := range render(script, input) {
		if h.frameDelay > 0 {
			timer := time.NewTimer(h.frameDelay)
			select {
			case <-ctx.Done():
				timer.Stop()
				h.logger.Info("client went away", zap.String("path", c.Path()))
				return nil
			case <-timer.C:
			}
		}
		if err := w.sendData(frame); err != nil {
			h.logger.Warn("failed to write frame", zap.Error(err))
			return nil
		}
	}
	return nil
}

// Preview returns a canned preview for the requested link.
// POST /resources/preview
func (h *Handler) Preview(c echo.Context) error {
	var req domain.PreviewRequest
	if err := c.Bind(&req); err != nil || req.URL == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Detail: "url is required"})
	}
	decision, err := h.policy.evaluate(c.Request().Context(), req.URL, h.scenario.Preview.FailHosts, c.Get(userContextKey))
	if err != nil {
		h.logger.Error("preview policy failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Detail: "policy evaluation failed"})
	}
	if decision == decisionBlock {
		h.logger.Info("preview blocked", zap.String("url", req.URL))
		return c.JSON(http.StatusBadGateway, errorResponse{Detail: "failed to fetch page"})
	}

	p := h.scenario.Preview
	return c.JSON(http.StatusOK, domain.ResourcePreview{
		Title:  substitute(p.Title, req.URL).(string),
		Tags:   p.Tags,
		Digest: substitute(p.Digest, req.URL).(string),
		URL:    req.URL,
	})
}
