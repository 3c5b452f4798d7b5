// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 実行結果のラベル値
const (
	ResultSuccess = "success"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// RunRecorder はサイト再生成の結果を記録するインターフェース。
// 再生成処理から利用する。
type RunRecorder interface {
	RecordRun(result string, duration time.Duration)
	RecordPages(written, unchanged int)
	RecordMedia(kind string, reused, downloaded, failed int)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	runs            *prometheus.CounterVec
	runDuration     prometheus.Histogram
	pagesWritten    prometheus.Counter
	pagesUnchanged  prometheus.Counter
	mediaReused     *prometheus.CounterVec
	mediaDownloaded *prometheus.CounterVec
	mediaFailed     *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "questmirror_runs_total",
			Help: "結果別のサイト再生成の実行回数",
		}, []string{"result"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "questmirror_run_duration_seconds",
			Help:    "サイト再生成1回あたりの所要時間（秒）",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		pagesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "questmirror_pages_written_total",
			Help: "内容が変わり書き込まれたページの合計数",
		}),
		pagesUnchanged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "questmirror_pages_unchanged_total",
			Help: "内容が同一で書き込みを省略したページの合計数",
		}),
		mediaReused: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "questmirror_media_reused_total",
			Help: "キャッシュから再利用したメディアの合計数",
		}, []string{"kind"}),
		mediaDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "questmirror_media_downloaded_total",
			Help: "ダウンロードしたメディアの合計数",
		}, []string{"kind"}),
		mediaFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "questmirror_media_failed_total",
			Help: "取得に失敗し破棄したメディアの合計数",
		}, []string{"kind"}),
	}

	reg.MustRegister(
		c.runs,
		c.runDuration,
		c.pagesWritten,
		c.pagesUnchanged,
		c.mediaReused,
		c.mediaDownloaded,
		c.mediaFailed,
	)

	return c
}

// RecordRun は1回の実行結果と所要時間を記録する。
func (c *Collector) RecordRun(result string, duration time.Duration) {
	c.runs.WithLabelValues(result).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// RecordPages は書き込んだページ数と省略したページ数を記録する。
func (c *Collector) RecordPages(written, unchanged int) {
	c.pagesWritten.Add(float64(written))
	c.pagesUnchanged.Add(float64(unchanged))
}

// RecordMedia はメディア種別ごとのキャッシュ解決結果を記録する。
func (c *Collector) RecordMedia(kind string, reused, downloaded, failed int) {
	c.mediaReused.WithLabelValues(kind).Add(float64(reused))
	c.mediaDownloaded.WithLabelValues(kind).Add(float64(downloaded))
	c.mediaFailed.WithLabelValues(kind).Add(float64(failed))
}

// Nop は何も記録しないRunRecorder。
type Nop struct{}

func (Nop) RecordRun(string, time.Duration)   {}
func (Nop) RecordPages(int, int)              {}
func (Nop) RecordMedia(string, int, int, int) {}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
