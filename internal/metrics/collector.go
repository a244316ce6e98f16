package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"activewatcher/internal/store"
)

var (
	rowsDesc = prometheus.NewDesc(namespace+"_store_rows", "Number of stored intervals.", nil, nil)
	openDesc = prometheus.NewDesc(namespace+"_store_open_intervals", "Number of open intervals.", nil, nil)
	upDesc   = prometheus.NewDesc(namespace+"_store_up", "1 if the last stats query succeeded.", nil, nil)
)

// StatsSource reports row counts.
type StatsSource interface {
	Stats(ctx context.Context) (*store.Stats, error)
}

// StoreCollector exposes store row counts at scrape time.
type StoreCollector struct {
	Source  StatsSource
	Timeout time.Duration
}

var _ prometheus.Collector = new(StoreCollector)

func (*StoreCollector) Describe(descCh chan<- *prometheus.Desc) {
	descCh <- rowsDesc
	descCh <- openDesc
	descCh <- upDesc
}

func (c *StoreCollector) Collect(metricsCh chan<- prometheus.Metric) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	st, err := c.Source.Stats(ctx)
	if err != nil {
		metricsCh <- prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, 0)
		return
	}
	metricsCh <- prometheus.MustNewConstMetric(upDesc, prometheus.GaugeValue, 1)
	metricsCh <- prometheus.MustNewConstMetric(rowsDesc, prometheus.GaugeValue, float64(st.Rows))
	metricsCh <- prometheus.MustNewConstMetric(openDesc, prometheus.GaugeValue, float64(st.Open))
}
