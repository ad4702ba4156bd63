package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsticker_cycles_total",
		Help: "Aggregation cycles by final status",
	}, []string{"status"})

	CycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "newsticker_cycle_duration_seconds",
		Help:    "Wall time of one aggregation cycle",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s ~ 256s
	})

	ArticlesInserted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsticker_articles_inserted_total",
		Help: "Articles inserted (duplicates excluded)",
	})

	SourceFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsticker_source_failures_total",
		Help: "Feed fetch failures per source",
	}, []string{"source"})

	ArticlesPruned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "newsticker_articles_pruned_total",
		Help: "Articles removed because they fell out of their feed window",
	})

	RankedItems = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "newsticker_ranked_items",
		Help: "Size of the currently published ranked set",
	})

	ContentFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "newsticker_content_fetch_total",
		Help: "Article content fetches by result (cache, extracted, fallback)",
	}, []string{"result"})
)
