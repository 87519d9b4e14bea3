package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	ccsv "cloud-costs/connectors/csv"
	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/recommend"
	"cloud-costs/pipeline"
)

type handlers struct {
	Deps
}

// errorBody is the JSON shape of every API error.
func errorBody(msg string, err error) map[string]any {
	body := map[string]any{"message": msg}
	if err != nil {
		body["error"] = err.Error()
	}
	return body
}

// parseFilter reads the common query parameters. Dates are YYYY-MM-DD and inclusive.
func parseFilter(c echo.Context) (cloudspending.Filter, error) {
	f := cloudspending.Filter{
		Service:       c.QueryParam("service"),
		Subscription:  c.QueryParam("subscription"),
		ResourceGroup: c.QueryParam("resource_group"),
	}
	if v := c.QueryParam("provider"); v != "" {
		p, ok := cloudspending.ParseProvider(v)
		if !ok {
			return f, fmt.Errorf("unknown provider %q", v)
		}
		f.Provider = p
	}
	var err error
	if f.Start, err = parseDate(c.QueryParam("start")); err != nil {
		return f, fmt.Errorf("invalid start date: %w", err)
	}
	if f.End, err = parseDate(c.QueryParam("end")); err != nil {
		return f, fmt.Errorf("invalid end date: %w", err)
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return f, errors.New("end date is before start date")
	}
	return f, nil
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

// filtered parses the filter and loads matching records, writing the error response itself.
func (h *handlers) filtered(c echo.Context) ([]cloudspending.Record, bool, error) {
	f, err := parseFilter(c)
	if err != nil {
		return nil, false, c.JSON(http.StatusBadRequest, errorBody("invalid filter", err))
	}
	records, err := h.Store.ListRecords(c.Request().Context(), f)
	if err != nil {
		slog.Error("web.records.list.failed", "error", err)
		return nil, false, c.JSON(http.StatusInternalServerError, errorBody("failed to load records", err))
	}
	return records, true, nil
}

func (h *handlers) costs(c echo.Context) error {
	records, ok, err := h.filtered(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, records)
}

type servicesResponse struct {
	Total    decimal.Decimal             `json:"total"`
	Services []cloudspending.ServiceCost `json:"services"`
}

func (h *handlers) services(c echo.Context) error {
	records, ok, err := h.filtered(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, servicesResponse{
		Total:    cloudspending.Total(records),
		Services: cloudspending.ByService(records),
	})
}

func (h *handlers) daily(c echo.Context) error {
	records, ok, err := h.filtered(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, cloudspending.Daily(records))
}

func (h *handlers) recommendations(c echo.Context) error {
	records, ok, err := h.filtered(c)
	if !ok {
		return err
	}
	return c.JSON(http.StatusOK, recommend.Analyze(records, h.Recommend))
}

func (h *handlers) export(c echo.Context) error {
	records, ok, err := h.filtered(c)
	if !ok {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentType, "text/csv; charset=utf-8")
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="cloud_costs.csv"`)
	c.Response().WriteHeader(http.StatusOK)
	return ccsv.WriteRecords(c.Response(), records)
}

// upload accepts a provider-native document as multipart field "file" with form field "provider".
func (h *handlers) upload(c echo.Context) error {
	p, ok := cloudspending.ParseProvider(c.FormValue("provider"))
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody("provider must be aws, azure or gcp", nil))
	}
	fh, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("missing file", err))
	}
	f, err := fh.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("failed to open upload", err))
	}
	defer f.Close()
	raw, err := io.ReadAll(f)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("failed to read upload", err))
	}

	res, err := pipeline.Ingest(c.Request().Context(), h.Store, p, raw)
	switch {
	case errors.Is(err, pipeline.ErrUnusableDocument):
		return c.JSON(http.StatusBadRequest, errorBody("file is not a JSON cost document", err))
	case err != nil:
		slog.Error("web.upload.failed", "provider", p, "file", fh.Filename, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("failed to store uploaded costs", err))
	}
	slog.Info("web.upload.done", "provider", p, "file", fh.Filename, "persisted", res.Persisted)
	return c.JSON(http.StatusOK, res)
}

func (h *handlers) saveCredentials(c echo.Context) error {
	var cred cloudspending.Credential
	if err := c.Bind(&cred); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("invalid credentials payload", err))
	}
	if p, ok := cloudspending.ParseProvider(string(cred.Provider)); ok {
		cred.Provider = p
	}
	cred.ID, cred.CreatedAt = "", time.Time{}
	if err := cred.Validate(); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("incomplete credentials", err))
	}
	if err := h.Store.SaveCredential(c.Request().Context(), &cred); err != nil {
		slog.Error("web.credentials.save.failed", "provider", cred.Provider, "error", err)
		return c.JSON(http.StatusInternalServerError, errorBody("failed to save credentials", err))
	}
	slog.Info("web.credentials.saved", "provider", cred.Provider, "id", cred.ID)
	return c.JSON(http.StatusCreated, cred.Masked())
}

func (h *handlers) showCredentials(c echo.Context) error {
	p, ok := cloudspending.ParseProvider(c.Param("provider"))
	if !ok {
		return c.JSON(http.StatusBadRequest, errorBody("unknown provider", nil))
	}
	cred, err := h.Store.LatestCredential(c.Request().Context(), p)
	switch {
	case errors.Is(err, cloudspending.ErrNotFound):
		return c.JSON(http.StatusNotFound, errorBody("no credentials saved", nil))
	case err != nil:
		return c.JSON(http.StatusInternalServerError, errorBody("failed to load credentials", err))
	}
	return c.JSON(http.StatusOK, cred.Masked())
}

// refresh runs one cycle now. A cycle already in progress finishes first.
func (h *handlers) refresh(c echo.Context) error {
	if h.Refresher == nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("refresh is not configured", nil))
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.FetchTimeout)
	defer cancel()
	res, err := h.Refresher.Run(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]any{
			"message": "refresh failed",
			"error":   err.Error(),
			"result":  res,
		})
	}
	return c.JSON(http.StatusOK, res)
}

func (h *handlers) health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
	defer cancel()
	if err := h.Store.Ping(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "error": err.Error()})
	}
	return c.JSON(http.StatusOK, map[string]any{"status": "ok"})
}
