package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/storylineai/storyline/internal/usage"
)

// SessionCounter exposes the number of live dialog sessions.
type SessionCounter interface {
	ActiveSessions() int
}

// RowCounter returns the number of rows in a repository.
type RowCounter interface {
	Count(ctx context.Context) (int64, error)
}

// ConsumptionCounter returns story consumption totals from the usage ledger.
type ConsumptionCounter interface {
	TotalConsumed(ctx context.Context) (int64, error)
	TotalConsumedInMonth(ctx context.Context, monthYear string) (int64, error)
}

// Collector is a prometheus.Collector that gathers StoryLine metrics at scrape time.
type Collector struct {
	sessions    SessionCounter
	accounts    RowCounter
	children    RowCounter
	stories     RowCounter
	consumption ConsumptionCounter
	startTime   time.Time

	// Metric descriptors.
	activeSessionsDesc *prometheus.Desc
	callerAccountsDesc *prometheus.Desc
	childProfilesDesc  *prometheus.Desc
	catalogStoriesDesc *prometheus.Desc
	storiesTotalDesc   *prometheus.Desc
	storiesMonthDesc   *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if unavailable.
func NewCollector(
	sessions SessionCounter,
	accounts RowCounter,
	children RowCounter,
	stories RowCounter,
	consumption ConsumptionCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		sessions:    sessions,
		accounts:    accounts,
		children:    children,
		stories:     stories,
		consumption: consumption,
		startTime:   startTime,

		activeSessionsDesc: prometheus.NewDesc(
			"storyline_active_sessions",
			"Number of in-progress story calls",
			nil, nil,
		),
		callerAccountsDesc: prometheus.NewDesc(
			"storyline_caller_accounts",
			"Number of registered caller accounts",
			nil, nil,
		),
		childProfilesDesc: prometheus.NewDesc(
			"storyline_child_profiles",
			"Number of registered child profiles",
			nil, nil,
		),
		catalogStoriesDesc: prometheus.NewDesc(
			"storyline_catalog_stories",
			"Number of stories in the catalog",
			nil, nil,
		),
		storiesTotalDesc: prometheus.NewDesc(
			"storyline_stories_consumed_total",
			"Total stories consumed across all callers and months",
			nil, nil,
		),
		storiesMonthDesc: prometheus.NewDesc(
			"storyline_stories_consumed_month",
			"Stories consumed in the current calendar month",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"storyline_uptime_seconds",
			"Seconds since the StoryLine process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activeSessionsDesc
	ch <- c.callerAccountsDesc
	ch <- c.childProfilesDesc
	ch <- c.catalogStoriesDesc
	ch <- c.storiesTotalDesc
	ch <- c.storiesMonthDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.sessions != nil {
		ch <- prometheus.MustNewConstMetric(
			c.activeSessionsDesc, prometheus.GaugeValue,
			float64(c.sessions.ActiveSessions()),
		)
	}

	c.collectCount(ctx, ch, c.accounts, c.callerAccountsDesc, "caller accounts")
	c.collectCount(ctx, ch, c.children, c.childProfilesDesc, "child profiles")
	c.collectCount(ctx, ch, c.stories, c.catalogStoriesDesc, "catalog stories")

	if c.consumption != nil {
		total, err := c.consumption.TotalConsumed(ctx)
		if err != nil {
			slog.Error("metrics: failed to count consumed stories", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.storiesTotalDesc, prometheus.CounterValue,
				float64(total),
			)
		}

		month, err := c.consumption.TotalConsumedInMonth(ctx, usage.MonthKey(time.Now()))
		if err != nil {
			slog.Error("metrics: failed to count monthly consumed stories", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.storiesMonthDesc, prometheus.GaugeValue,
				float64(month),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}

func (c *Collector) collectCount(ctx context.Context, ch chan<- prometheus.Metric, counter RowCounter, desc *prometheus.Desc, what string) {
	if counter == nil {
		return
	}
	n, err := counter.Count(ctx)
	if err != nil {
		slog.Error("metrics: failed to count "+what, "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, float64(n))
}
