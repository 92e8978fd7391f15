package prometheus

import (
	"time"

	"github.com/turtacn/BioAnnotator/internal/domain/annotation"
)

// Namespace prefixes every annotation metric.
const Namespace = "annotation"

var (
	DefaultPipelineDurationBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}
	DefaultAnnotationCountBuckets  = []float64{0, 1, 5, 10, 25, 50, 100, 250, 500, 1000}
	DefaultJobDurationBuckets      = []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120}
)

// AnnotationMetrics holds every metric the pipeline and its workers emit.
// It satisfies the Metrics ports of the recognition, organism, overlay and
// pipeline packages, so a single instance is passed to all of them.
type AnnotationMetrics struct {
	DocumentsTotal          CounterVec
	PipelineDuration        HistogramVec
	AnnotationsPerDocument  HistogramVec
	DictionaryLookupsTotal  CounterVec
	DegradedCategoriesTotal CounterVec
	OrganismResolutions     CounterVec
	ManualOverlayTotal      CounterVec
	CacheHitsTotal          CounterVec
	CacheMissesTotal        CounterVec

	// Worker and sink telemetry.
	JobsTotal          CounterVec
	JobDuration        HistogramVec
	SinkPublishTotal   CounterVec
	DictionaryLoaded   GaugeVec
	HealthCheckStatus  GaugeVec
	DictionarySyncTime GaugeVec
}

// NewAnnotationMetrics registers all metrics on collector.
func NewAnnotationMetrics(collector MetricsCollector) *AnnotationMetrics {
	m := &AnnotationMetrics{}

	m.DocumentsTotal = collector.RegisterCounter("documents_total", "Documents processed by the pipeline", "status")
	m.PipelineDuration = collector.RegisterHistogram("pipeline_duration_seconds", "Duration of one pipeline pass", DefaultPipelineDurationBuckets)
	m.AnnotationsPerDocument = collector.RegisterHistogram("annotations_per_document", "Annotations emitted per successful document", DefaultAnnotationCountBuckets)
	m.DictionaryLookupsTotal = collector.RegisterCounter("dictionary_lookups_total", "Dictionary lookups", "category", "result")
	m.DegradedCategoriesTotal = collector.RegisterCounter("degraded_categories_total", "Categories skipped because their dictionary was unavailable", "category")
	m.OrganismResolutions = collector.RegisterCounter("organism_resolutions_total", "Gene organism resolutions per tier", "tier", "result")
	m.ManualOverlayTotal = collector.RegisterCounter("manual_overlay_total", "Manual annotations applied", "kind")
	m.CacheHitsTotal = collector.RegisterCounter("cache_hits_total", "Cache hits", "cache")
	m.CacheMissesTotal = collector.RegisterCounter("cache_misses_total", "Cache misses", "cache")

	m.JobsTotal = collector.RegisterCounter("jobs_total", "Annotation jobs handled by the worker", "status")
	m.JobDuration = collector.RegisterHistogram("job_duration_seconds", "End-to-end job duration including sinks", DefaultJobDurationBuckets)
	m.SinkPublishTotal = collector.RegisterCounter("sink_publish_total", "Annotation sink publications", "sink", "result")
	m.DictionaryLoaded = collector.RegisterGauge("dictionary_loaded", "Dictionary availability (1=loaded, 0=unavailable)", "category")
	m.HealthCheckStatus = collector.RegisterGauge("health_check_status", "Health check status (1=up, 0=down)", "component")
	m.DictionarySyncTime = collector.RegisterGauge("dictionary_last_sync_timestamp_seconds", "Unix time of the last dictionary pull", "result")

	return m
}

func (m *AnnotationMetrics) RecordDocument(status string, duration time.Duration, annotations int) {
	m.DocumentsTotal.WithLabelValues(status).Inc()
	m.PipelineDuration.WithLabelValues().Observe(duration.Seconds())
	if status != "failed" {
		m.AnnotationsPerDocument.WithLabelValues().Observe(float64(annotations))
	}
}

func (m *AnnotationMetrics) RecordLookup(category annotation.Category, result string) {
	m.DictionaryLookupsTotal.WithLabelValues(string(category), result).Inc()
}

func (m *AnnotationMetrics) RecordDegraded(category annotation.Category) {
	m.DegradedCategoriesTotal.WithLabelValues(string(category)).Inc()
}

// RecordResolution adds count genes to the tier/result pair.  Zero counts
// are dropped so idle tiers do not create series.
func (m *AnnotationMetrics) RecordResolution(tier, result string, count int) {
	if count <= 0 {
		return
	}
	m.OrganismResolutions.WithLabelValues(tier, result).Add(float64(count))
}

func (m *AnnotationMetrics) RecordOverlay(kind string, count int) {
	if count <= 0 {
		return
	}
	m.ManualOverlayTotal.WithLabelValues(kind).Add(float64(count))
}

func (m *AnnotationMetrics) RecordCache(name string, hit bool) {
	if hit {
		m.CacheHitsTotal.WithLabelValues(name).Inc()
	} else {
		m.CacheMissesTotal.WithLabelValues(name).Inc()
	}
}

// RecordJob records one worker job, whatever its outcome.
func (m *AnnotationMetrics) RecordJob(status string, duration time.Duration) {
	m.JobsTotal.WithLabelValues(status).Inc()
	m.JobDuration.WithLabelValues().Observe(duration.Seconds())
}

func (m *AnnotationMetrics) RecordSink(sink string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.SinkPublishTotal.WithLabelValues(sink, result).Inc()
}

// SetDictionaries marks each category in all as loaded or not.
func (m *AnnotationMetrics) SetDictionaries(all, available []annotation.Category) {
	loaded := make(map[annotation.Category]bool, len(available))
	for _, c := range available {
		loaded[c] = true
	}
	for _, c := range all {
		v := 0.0
		if loaded[c] {
			v = 1
		}
		m.DictionaryLoaded.WithLabelValues(string(c)).Set(v)
	}
}

func (m *AnnotationMetrics) SetHealth(component string, up bool) {
	v := 0.0
	if up {
		v = 1
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

func (m *AnnotationMetrics) RecordDictionarySync(at time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.DictionarySyncTime.WithLabelValues(result).Set(float64(at.Unix()))
}
