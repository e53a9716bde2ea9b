// Package api exposes the analysis pipeline over HTTP: ad-hoc analysis of
// uploaded recordings, batch runs over the recording grid, and the health
// and metrics endpoints.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	gocache "github.com/patrickmn/go-cache"

	"github.com/watchme/sed-go/internal/analysis"
	"github.com/watchme/sed-go/internal/conf"
	"github.com/watchme/sed-go/internal/detection"
	"github.com/watchme/sed-go/internal/errors"
	"github.com/watchme/sed-go/internal/logging"
	"github.com/watchme/sed-go/internal/observability"
)

// maxUploadBytes bounds ad-hoc uploads. 60 s of 16-bit stereo at 48 kHz is
// about 12 MB; 64 MB leaves generous headroom for high sample rates.
const maxUploadBytes = 64 << 20

// reportTTL is how long finished batch reports stay retrievable.
const reportTTL = 24 * time.Hour

// Controller owns the echo instance and its routes.
type Controller struct {
	Echo     *echo.Echo
	settings *conf.Settings
	runner   *analysis.Runner
	metrics  *observability.Metrics
	reports  *gocache.Cache
	log      *slog.Logger
}

// New creates the controller and registers all routes.
func New(settings *conf.Settings, runner *analysis.Runner, metrics *observability.Metrics) *Controller {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.BodyLimit(strconv.Itoa(maxUploadBytes)))

	c := &Controller{
		Echo:     e,
		settings: settings,
		runner:   runner,
		metrics:  metrics,
		reports:  gocache.New(reportTTL, time.Hour),
		log:      logging.ForService("api"),
	}
	c.registerRoutes()
	return c
}

func (c *Controller) registerRoutes() {
	c.Echo.GET("/healthz", c.handleHealthz)
	if c.metrics != nil {
		c.Echo.GET("/metrics", echo.WrapHandler(c.metrics.Handler()))
	}

	v1 := c.Echo.Group("/api/v1")
	v1.POST("/analyze/sed", c.handleAnalyzeSED)
	v1.POST("/analyze/sed/timeline", c.handleAnalyzeTimeline)
	v1.POST("/analyze/sed/summary", c.handleAnalyzeSummary)
	v1.POST("/analyze/sed/batch", c.handleBatch)
	v1.GET("/analyze/sed/batch/:run_id", c.handleBatchReport)
}

// Start runs the server on the configured port, blocking until shutdown.
func (c *Controller) Start() error {
	addr := ":" + c.settings.WebServer.Port
	c.log.Info("HTTP server starting", "addr", addr)
	return c.Echo.Start(addr)
}

// Shutdown stops the server gracefully.
func (c *Controller) Shutdown(ctx context.Context) error {
	return c.Echo.Shutdown(ctx)
}

func (c *Controller) handleHealthz(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// handleAnalyzeSED returns the ranked whole-file events for an upload.
func (c *Controller) handleAnalyzeSED(ctx echo.Context) error {
	opts := analysis.Options{
		TopN: intParam(ctx, "top_n", 0),
	}
	result, err := c.analyzeUpload(ctx, opts)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"sed": result.TopN})
}

// handleAnalyzeTimeline returns the framewise event timeline for an upload.
func (c *Controller) handleAnalyzeTimeline(ctx echo.Context) error {
	opts := analysis.Options{
		Threshold: floatParamPtr(ctx, "threshold"),
	}
	result, err := c.analyzeUpload(ctx, opts)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	return ctx.JSON(http.StatusOK, result.Timeline)
}

// handleAnalyzeSummary returns the windowed label summary for an upload.
func (c *Controller) handleAnalyzeSummary(ctx echo.Context) error {
	opts := analysis.Options{
		Threshold:      floatParamPtr(ctx, "threshold"),
		SegmentSeconds: floatParam(ctx, "segment_seconds", 0),
	}
	result, err := c.analyzeUpload(ctx, opts)
	if err != nil {
		return c.errorResponse(ctx, err)
	}
	return ctx.JSON(http.StatusOK, map[string]any{"summary": result.Summary})
}

type batchRequest struct {
	DeviceID string `json:"device_id"`
	Date     string `json:"date"`
	// Pointer so an explicit zero survives; absent means the configured
	// default.
	Threshold *float64 `json:"threshold"`
}

// handleBatch runs the full slot grid for one device and date and returns
// the report. The report is also cached for later retrieval by run ID.
func (c *Controller) handleBatch(ctx echo.Context) error {
	var req batchRequest
	if err := ctx.Bind(&req); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "malformed request body"})
	}
	if req.DeviceID == "" || req.Date == "" {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "device_id and date are required"})
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return ctx.JSON(http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
	}

	report, err := c.runner.RunDay(ctx.Request().Context(), req.DeviceID, req.Date, analysis.Options{Threshold: req.Threshold})
	if err != nil {
		return c.errorResponse(ctx, err)
	}

	c.reports.Set(report.RunID, report, gocache.DefaultExpiration)
	return ctx.JSON(http.StatusOK, report)
}

// handleBatchReport returns a cached batch report by run ID.
func (c *Controller) handleBatchReport(ctx echo.Context) error {
	runID := ctx.Param("run_id")
	if report, ok := c.reports.Get(runID); ok {
		return ctx.JSON(http.StatusOK, report)
	}
	return ctx.JSON(http.StatusNotFound, map[string]string{"error": "no report for run " + runID})
}

// analyzeUpload reads the uploaded recording and runs it through the
// pipeline.
func (c *Controller) analyzeUpload(ctx echo.Context, opts analysis.Options) (*detection.Result, error) {
	fileHeader, err := ctx.FormFile("file")
	if err != nil {
		return nil, errors.Newf("missing file upload field").
			Component("api").
			Category(errors.CategoryValidation).
			Build()
	}

	file, err := fileHeader.Open()
	if err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Build()
	}
	defer func() {
		if err := file.Close(); err != nil {
			c.log.Warn("Failed to close upload", "error", err)
		}
	}()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, errors.New(err).
			Component("api").
			Category(errors.CategoryFileIO).
			Build()
	}

	return c.runner.AnalyzeBytes(ctx.Request().Context(), data, opts)
}

// errorResponse maps pipeline error categories onto HTTP statuses.
func (c *Controller) errorResponse(ctx echo.Context, err error) error {
	status := http.StatusInternalServerError
	switch {
	case errors.IsNotFound(err):
		status = http.StatusNotFound
	case errors.IsCategory(err, errors.CategoryDecode),
		errors.IsCategory(err, errors.CategoryFormat),
		errors.IsCategory(err, errors.CategoryValidation):
		status = http.StatusBadRequest
	case errors.IsCategory(err, errors.CategoryModelUnavailable):
		status = http.StatusServiceUnavailable
	case errors.IsCategory(err, errors.CategoryTimeout):
		status = http.StatusGatewayTimeout
	}

	if status == http.StatusInternalServerError {
		c.log.Error("Request failed", "path", ctx.Path(), "error", err)
	}
	return ctx.JSON(status, map[string]string{"error": err.Error()})
}

// floatParamPtr returns the parsed parameter, or nil when it is absent or
// malformed. Callers use nil to mean "apply the configured default", which
// keeps an explicit zero distinguishable from an omitted value.
func floatParamPtr(ctx echo.Context, name string) *float64 {
	raw := ctx.FormValue(name)
	if raw == "" {
		raw = ctx.QueryParam(name)
	}
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil
	}
	return &v
}

func floatParam(ctx echo.Context, name string, fallback float64) float64 {
	raw := ctx.FormValue(name)
	if raw == "" {
		raw = ctx.QueryParam(name)
	}
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return v
}

func intParam(ctx echo.Context, name string, fallback int) int {
	raw := ctx.FormValue(name)
	if raw == "" {
		raw = ctx.QueryParam(name)
	}
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
