package web

import (
	"embed"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/labstack/echo/v4"
	lo "github.com/samber/lo"
	"github.com/shopspring/decimal"

	"cloud-costs/domain/cloudspending"
	"cloud-costs/domain/recommend"
)

//go:embed templates/*.html
var templateFS embed.FS

type renderer struct {
	templates *template.Template
}

func newRenderer() *renderer {
	t := template.Must(template.New("").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/*.html"))
	return &renderer{templates: t}
}

func (r *renderer) Render(w io.Writer, name string, data any, _ echo.Context) error {
	return r.templates.ExecuteTemplate(w, name, data)
}

// trendPoint is one day of the stacked trend, all services summed.
type trendPoint struct {
	Date    time.Time
	Cost    decimal.Decimal
	Percent float64
}

type dashboardView struct {
	Status          string
	Query           map[string]string
	Providers       []cloudspending.Provider
	Records         int
	Total           decimal.Decimal
	Services        []cloudspending.ServiceCost
	Trend           []trendPoint
	Recommendations []recommend.Recommendation
	GeneratedAt     time.Time
}

// dashboard renders the HTML view. Filter and store problems become the status line.
func (h *handlers) dashboard(c echo.Context) error {
	view := dashboardView{
		Query: map[string]string{
			"provider":       c.QueryParam("provider"),
			"service":        c.QueryParam("service"),
			"subscription":   c.QueryParam("subscription"),
			"resource_group": c.QueryParam("resource_group"),
			"start":          c.QueryParam("start"),
			"end":            c.QueryParam("end"),
		},
		Providers:   []cloudspending.Provider{cloudspending.ProviderAWS, cloudspending.ProviderAzure, cloudspending.ProviderGCP},
		GeneratedAt: time.Now().UTC(),
	}

	f, err := parseFilter(c)
	if err != nil {
		view.Status = "Invalid filter: " + err.Error()
		return c.Render(http.StatusBadRequest, "dashboard.html", view)
	}
	records, err := h.Store.ListRecords(c.Request().Context(), f)
	if err != nil {
		slog.Error("web.dashboard.list.failed", "error", err)
		view.Status = "Cost data is unavailable right now."
		return c.Render(http.StatusInternalServerError, "dashboard.html", view)
	}
	if len(records) == 0 {
		view.Status = "No cost data for the selected filters."
	}

	view.Records = len(records)
	view.Total = cloudspending.Total(records)
	view.Services = cloudspending.ByService(records)
	view.Trend = trend(records)
	view.Recommendations = recommend.Analyze(records, h.Recommend)
	return c.Render(http.StatusOK, "dashboard.html", view)
}

// trend sums each day across services and scales bars against the busiest day.
func trend(records []cloudspending.Record) []trendPoint {
	byDay := lo.GroupBy(cloudspending.Daily(records), func(d cloudspending.DailyCost) time.Time { return d.Date })
	points := make([]trendPoint, 0, len(byDay))
	for day, costs := range byDay {
		total := lo.Reduce(costs, func(acc decimal.Decimal, d cloudspending.DailyCost, _ int) decimal.Decimal {
			return acc.Add(d.Cost)
		}, decimal.Zero)
		points = append(points, trendPoint{Date: day, Cost: total})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })

	peak := lo.MaxBy(points, func(a, b trendPoint) bool { return a.Cost.GreaterThan(b.Cost) })
	if peak.Cost.IsPositive() {
		for i := range points {
			points[i].Percent, _ = points[i].Cost.Div(peak.Cost).Mul(decimal.NewFromInt(100)).Float64()
		}
	}
	return points
}
