package cloudspending

import (
	"sort"
	"time"

	lo "github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// Filter selects records for the dashboard. Empty fields match everything.
// Start and End are inclusive days.
type Filter struct {
	Provider      Provider
	Service       string
	Subscription  string
	ResourceGroup string
	Start         time.Time
	End           time.Time
}

// Match reports whether r passes the filter.
func (f Filter) Match(r Record) bool {
	if f.Provider != "" && r.Provider != f.Provider {
		return false
	}
	if f.Service != "" && r.Service != f.Service {
		return false
	}
	if f.Subscription != "" && r.Subscription != f.Subscription {
		return false
	}
	if f.ResourceGroup != "" && r.ResourceGroup != f.ResourceGroup {
		return false
	}
	if !f.Start.IsZero() && r.Timestamp.Before(startOfDay(f.Start)) {
		return false
	}
	if !f.End.IsZero() && !r.Timestamp.Before(startOfDay(f.End).AddDate(0, 0, 1)) {
		return false
	}
	return true
}

// Apply returns the records matching f, preserving order.
func (f Filter) Apply(records []Record) []Record {
	return lo.Filter(records, func(r Record, _ int) bool { return f.Match(r) })
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ServiceCost is the spend of one service over the selected window.
type ServiceCost struct {
	Provider Provider        `json:"provider"`
	Service  string          `json:"service"`
	Cost     decimal.Decimal `json:"cost"`
	Share    float64         `json:"share"`
}

// DailyCost is the spend of one service on one day.
type DailyCost struct {
	Date     time.Time       `json:"date"`
	Provider Provider        `json:"provider"`
	Service  string          `json:"service"`
	Cost     decimal.Decimal `json:"cost"`
}

// Total sums the cost of all records.
func Total(records []Record) decimal.Decimal {
	return lo.Reduce(records, func(acc decimal.Decimal, r Record, _ int) decimal.Decimal {
		return acc.Add(r.Cost)
	}, decimal.Zero)
}

// ByService aggregates records per (provider, service), highest spend first.
func ByService(records []Record) []ServiceCost {
	type key struct {
		provider Provider
		service  string
	}
	groups := lo.GroupBy(records, func(r Record) key { return key{r.Provider, r.Service} })
	total := Total(records)

	out := make([]ServiceCost, 0, len(groups))
	for k, rs := range groups {
		sc := ServiceCost{Provider: k.provider, Service: k.service, Cost: Total(rs)}
		if total.IsPositive() {
			sc.Share, _ = sc.Cost.Div(total).Float64()
		}
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Cost.Cmp(out[j].Cost); c != 0 {
			return c > 0
		}
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Service < out[j].Service
	})
	return out
}

// Daily aggregates records per (day, provider, service), oldest day first.
func Daily(records []Record) []DailyCost {
	type key struct {
		day      time.Time
		provider Provider
		service  string
	}
	groups := lo.GroupBy(records, func(r Record) key {
		return key{startOfDay(r.Timestamp), r.Provider, r.Service}
	})

	out := make([]DailyCost, 0, len(groups))
	for k, rs := range groups {
		out = append(out, DailyCost{Date: k.day, Provider: k.provider, Service: k.service, Cost: Total(rs)})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if out[i].Provider != out[j].Provider {
			return out[i].Provider < out[j].Provider
		}
		return out[i].Service < out[j].Service
	})
	return out
}
