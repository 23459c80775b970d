package annotation

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/lewtec/marcador/internal/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPLogger logs one line per request with its latency, status, method and path
func HTTPLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			initialTime := time.Now()
			if err := next(c); err != nil {
				c.Error(err)
			}
			logger.Info("http",
				"time_ms", time.Since(initialTime).Milliseconds(),
				"status", c.Response().Status,
				"method", c.Request().Method,
				"path", c.Request().URL.String(),
			)
			return nil
		}
	}
}

// requestTimeout bounds the context handlers run under
func requestTimeout(d time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), d)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// httpStatus maps the error taxonomy onto status codes
func httpStatus(err error) int {
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		return he.Code
	case errors.Is(err, domain.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrTransientStorage), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *App) errorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	status := httpStatus(err)
	message := err.Error()
	var he *echo.HTTPError
	if errors.As(err, &he) {
		message = http.StatusText(he.Code)
		if m, ok := he.Message.(string); ok {
			message = m
		}
	}
	if status >= http.StatusInternalServerError {
		a.Logger.Error("request failed", "method", c.Request().Method, "path", c.Request().URL.Path, "error", err)
	}
	if err := c.JSON(status, errorResponse{Error: message}); err != nil {
		a.Logger.Error("while writing error response", "error", err)
	}
}

func paramInt64(c echo.Context, name string) (int64, error) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, domain.InvalidArgument("%s %q is not an integer", name, c.Param(name))
	}
	return v, nil
}

func queryInt(c echo.Context, name string, fallback int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.InvalidArgument("%s %q is not an integer", name, raw)
	}
	return v, nil
}

func queryBool(c echo.Context, name string) (bool, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return false, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.InvalidArgument("%s %q is not a boolean", name, raw)
	}
	return v, nil
}

type labelBody struct {
	WorkerID string       `json:"worker_id"`
	Label    domain.Label `json:"label"`
	Note     string       `json:"note"`
}

func labelRequest(c echo.Context) (LabelRequest, error) {
	datasetID, err := paramInt64(c, "dataset")
	if err != nil {
		return LabelRequest{}, err
	}
	itemID, err := paramInt64(c, "item")
	if err != nil {
		return LabelRequest{}, err
	}
	var body labelBody
	if err := (&echo.DefaultBinder{}).BindBody(c, &body); err != nil {
		return LabelRequest{}, domain.InvalidArgument("malformed body: %s", err)
	}
	return LabelRequest{
		DatasetID: datasetID,
		ItemID:    itemID,
		WorkerID:  body.WorkerID,
		Label:     body.Label,
		Note:      body.Note,
	}, nil
}

func (a *App) handleAllocate(c echo.Context) error {
	value, err := a.AllocateNextID(c.Request().Context(), c.Param("name"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]int64{"value": value})
}

func (a *App) handleSubmit(c echo.Context) error {
	req, err := labelRequest(c)
	if err != nil {
		return err
	}
	res, err := a.SubmitLabel(c.Request().Context(), req)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if res.Status == domain.StatusCreated {
		status = http.StatusCreated
	}
	return c.JSON(status, res)
}

func (a *App) handleUpdate(c echo.Context) error {
	req, err := labelRequest(c)
	if err != nil {
		return err
	}
	res, err := a.UpdateLabel(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (a *App) handleNext(c echo.Context) error {
	datasetID, err := paramInt64(c, "dataset")
	if err != nil {
		return err
	}
	next, err := a.GetNextItem(c.Request().Context(), datasetID, c.QueryParam("worker_id"), nil)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, next)
}

func (a *App) handlePrevious(c echo.Context) error {
	datasetID, err := paramInt64(c, "dataset")
	if err != nil {
		return err
	}
	itemID, err := paramInt64(c, "item")
	if err != nil {
		return err
	}
	prev, ok, err := a.PreviousItem(c.Request().Context(), datasetID, itemID)
	if err != nil {
		return err
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no previous item")
	}
	return c.JSON(http.StatusOK, map[string]int64{"item_id": prev})
}

func (a *App) handleQueue(c echo.Context) error {
	datasetID, err := paramInt64(c, "dataset")
	if err != nil {
		return err
	}
	includeDone, err := queryBool(c, "include_done")
	if err != nil {
		return err
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		return err
	}
	pageSize, err := queryInt(c, "page_size", 50)
	if err != nil {
		return err
	}
	items, err := a.GetQueue(c.Request().Context(), datasetID, c.QueryParam("worker_id"), includeDone, page, pageSize)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{"page": page, "page_size": pageSize, "items": items})
}

func (a *App) handleStats(c echo.Context) error {
	datasetID, err := paramInt64(c, "dataset")
	if err != nil {
		return err
	}
	counts, err := a.GetStats(c.Request().Context(), datasetID, c.QueryParam("worker_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, counts)
}

func (a *App) handleHealth(c echo.Context) error {
	if err := a.Database.PingContext(c.Request().Context()); err != nil {
		return &domain.StorageError{Op: "ping", Err: err, Transient: true}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// GetHTTPHandler returns the JSON API of the four external operations
func (a *App) GetHTTPHandler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = a.errorHandler
	e.Use(HTTPLogger(a.Logger))

	api := e.Group("/api", requestTimeout(a.Config.Server.RequestTimeout))
	api.POST("/sequences/:name/next", a.handleAllocate)
	api.POST("/datasets/:dataset/items/:item/label", a.handleSubmit)
	api.PATCH("/datasets/:dataset/items/:item/label", a.handleUpdate)
	api.GET("/datasets/:dataset/items/:item/previous", a.handlePrevious)
	api.GET("/datasets/:dataset/next", a.handleNext)
	api.GET("/datasets/:dataset/queue", a.handleQueue)
	api.GET("/datasets/:dataset/stats", a.handleStats)

	e.GET("/healthz", a.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})))
	return e
}

// Serve runs the HTTP API on addr until ctx is done
func (a *App) Serve(ctx context.Context, addr string) error {
	e := a.GetHTTPHandler()
	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("starting server", "addr", addr)
		errCh <- e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		a.Logger.Info("shutting down server")
		if err := e.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
