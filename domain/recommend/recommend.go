// Package recommend derives simple cost recommendations from persisted records.
package recommend

import (
	"fmt"
	"sort"
	"time"

	lo "github.com/samber/lo"
	"github.com/shopspring/decimal"

	"cloud-costs/domain/cloudspending"
)

// Impact ranks recommendations, HIGH first.
type Impact string

const (
	ImpactHigh   Impact = "HIGH"
	ImpactMedium Impact = "MEDIUM"
	ImpactLow    Impact = "LOW"
)

func (i Impact) rank() int {
	switch i {
	case ImpactHigh:
		return 0
	case ImpactMedium:
		return 1
	}
	return 2
}

// Kind names the rule that produced a recommendation.
type Kind string

const (
	Concentration Kind = "CONCENTRATION"
	Spike         Kind = "SPIKE"
	Untagged      Kind = "UNTAGGED_SPEND"
	SmallService  Kind = "SMALL_SERVICE"
)

type Recommendation struct {
	Kind     Kind                   `json:"kind"`
	Impact   Impact                 `json:"impact"`
	Provider cloudspending.Provider `json:"provider"`
	Service  string                 `json:"service,omitempty"`
	// Cost is the spend the rule looked at over the window.
	Cost decimal.Decimal `json:"cost"`
	// EstimatedMonthly scales Cost to a 30-day month.
	EstimatedMonthly decimal.Decimal `json:"estimated_monthly"`
	Reason           string          `json:"reason"`
}

type Options struct {
	// ConcentrationShare is the share of total spend above which one service is flagged.
	ConcentrationShare float64
	// SpikeFactor compares a service's latest day to the mean of its earlier days.
	SpikeFactor       float64
	SpikeMinPriorDays int
	SpikeMinCost      decimal.Decimal
	// UntaggedShare is the share of Azure spend without tags above which it is flagged.
	UntaggedShare float64
	// SmallServiceCost flags services whose window total is positive but below it.
	SmallServiceCost decimal.Decimal
}

func DefaultOptions() Options {
	return Options{
		ConcentrationShare: 0.40,
		SpikeFactor:        1.5,
		SpikeMinPriorDays:  3,
		SpikeMinCost:       decimal.NewFromInt(1),
		UntaggedShare:      0.10,
		SmallServiceCost:   decimal.NewFromInt(1),
	}
}

// Analyze applies every rule to records. Output is sorted by impact, then estimated
// monthly cost descending.
func Analyze(records []cloudspending.Record, opts Options) []Recommendation {
	out := []Recommendation{}
	if len(records) == 0 {
		return out
	}
	scale := monthlyScale(records)
	services := cloudspending.ByService(records)

	out = append(out, concentration(services, opts)...)
	out = append(out, spikes(records, opts)...)
	out = append(out, untagged(records, opts)...)
	out = append(out, smallServices(services, opts)...)

	for i := range out {
		if out[i].EstimatedMonthly.IsZero() {
			out[i].EstimatedMonthly = out[i].Cost.Mul(scale).Round(2)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if ri, rj := out[i].Impact.rank(), out[j].Impact.rank(); ri != rj {
			return ri < rj
		}
		return out[i].EstimatedMonthly.GreaterThan(out[j].EstimatedMonthly)
	})
	return out
}

// monthlyScale is 30 divided by the number of days the records span.
func monthlyScale(records []cloudspending.Record) decimal.Decimal {
	first := lo.MinBy(records, func(a, b cloudspending.Record) bool { return a.Timestamp.Before(b.Timestamp) }).Timestamp
	last := lo.MaxBy(records, func(a, b cloudspending.Record) bool { return a.Timestamp.After(b.Timestamp) }).Timestamp
	days := int64(last.Sub(first)/(24*time.Hour)) + 1
	return decimal.NewFromInt(30).Div(decimal.NewFromInt(days))
}

func concentration(services []cloudspending.ServiceCost, opts Options) []Recommendation {
	var out []Recommendation
	for _, s := range services {
		if s.Share < opts.ConcentrationShare || !s.Cost.IsPositive() {
			continue
		}
		out = append(out, Recommendation{
			Kind:     Concentration,
			Impact:   ImpactHigh,
			Provider: s.Provider,
			Service:  s.Service,
			Cost:     s.Cost,
			Reason: fmt.Sprintf("%s accounts for %.0f%% of spend; review commitments (reservations, savings plans) and right-size its largest consumers",
				s.Service, s.Share*100),
		})
	}
	return out
}

func spikes(records []cloudspending.Record, opts Options) []Recommendation {
	type key struct {
		provider cloudspending.Provider
		service  string
	}
	// Daily is sorted by date, so each group is chronological.
	byService := lo.GroupBy(cloudspending.Daily(records), func(d cloudspending.DailyCost) key {
		return key{d.Provider, d.Service}
	})

	var out []Recommendation
	for k, days := range byService {
		if len(days)-1 < opts.SpikeMinPriorDays {
			continue
		}
		latest := days[len(days)-1]
		prior := days[:len(days)-1]
		mean := lo.Reduce(prior, func(acc decimal.Decimal, d cloudspending.DailyCost, _ int) decimal.Decimal {
			return acc.Add(d.Cost)
		}, decimal.Zero).Div(decimal.NewFromInt(int64(len(prior))))

		if latest.Cost.LessThan(opts.SpikeMinCost) || latest.Cost.LessThan(mean.Mul(decimal.NewFromFloat(opts.SpikeFactor))) {
			continue
		}
		out = append(out, Recommendation{
			Kind:             Spike,
			Impact:           ImpactMedium,
			Provider:         k.provider,
			Service:          k.service,
			Cost:             latest.Cost,
			EstimatedMonthly: latest.Cost.Sub(mean).Mul(decimal.NewFromInt(30)).Round(2),
			Reason: fmt.Sprintf("%s cost %s on %s against a daily mean of %s; check for new resources or runaway usage",
				k.service, latest.Cost.StringFixed(2), latest.Date.Format(time.DateOnly), mean.StringFixed(2)),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Service < out[j].Service })
	return out
}

func untagged(records []cloudspending.Record, opts Options) []Recommendation {
	azure := lo.Filter(records, func(r cloudspending.Record, _ int) bool { return r.Provider == cloudspending.ProviderAzure })
	total := cloudspending.Total(azure)
	if !total.IsPositive() {
		return nil
	}
	bare := cloudspending.Total(lo.Filter(azure, func(r cloudspending.Record, _ int) bool { return r.Tags == "" }))
	share, _ := bare.Div(total).Float64()
	if share <= opts.UntaggedShare {
		return nil
	}
	return []Recommendation{{
		Kind:     Untagged,
		Impact:   ImpactLow,
		Provider: cloudspending.ProviderAzure,
		Cost:     bare,
		Reason:   fmt.Sprintf("%.0f%% of Azure spend carries no tags; tag resources so cost can be attributed to owners", share*100),
	}}
}

func smallServices(services []cloudspending.ServiceCost, opts Options) []Recommendation {
	var out []Recommendation
	for _, s := range services {
		if !s.Cost.IsPositive() || !s.Cost.LessThan(opts.SmallServiceCost) {
			continue
		}
		out = append(out, Recommendation{
			Kind:     SmallService,
			Impact:   ImpactLow,
			Provider: s.Provider,
			Service:  s.Service,
			Cost:     s.Cost,
			Reason:   fmt.Sprintf("%s cost %s over the window; it may be idle and safe to remove", s.Service, s.Cost.StringFixed(2)),
		})
	}
	return out
}
