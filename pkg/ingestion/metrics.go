// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ingestion

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsIngestion holds Prometheus metrics for index runs.
type metricsIngestion struct {
	once sync.Once

	// Sources
	filesFound    prometheus.Counter
	recordsLoaded prometheus.Counter
	recordErrors  prometheus.Counter

	// Features
	featuresWritten   prometheus.Counter
	featuresInserted  prometheus.Counter
	featuresInvalid   prometheus.Counter
	featuresDuplicate prometheus.Counter
	featuresMissing   prometheus.Counter

	jsonFiles prometheus.Counter

	// Durations
	walkDuration  prometheus.Histogram
	loadDuration  prometheus.Histogram
	writeDuration prometheus.Histogram
	totalDuration prometheus.Histogram
}

var ingMetrics metricsIngestion

func (m *metricsIngestion) init() {
	m.once.Do(func() {
		m.filesFound = prometheus.NewCounter(prometheus.CounterOpts{Name: "demindex_files_found_total", Help: "Source files found by the walker"})
		m.recordsLoaded = prometheus.NewCounter(prometheus.CounterOpts{Name: "demindex_records_loaded_total", Help: "Records constructed from source files"})
		m.recordErrors = prometheus.NewCounter(prometheus.CounterOpts{Name: "demindex_record_errors_total", Help: "Source files that failed to produce a record"})

		m.featuresWritten = prometheus.NewCounter(prometheus.CounterOpts{Name: "demindex_features_written_total", Help: "Valid features handed to the sink"})
		m.featuresInserted = prometheus.NewCounter(prometheus.CounterOpts{Name: "demindex_features_inserted_total", Help: "Features stored by the sink"})
		m.featuresInvalid = prometheus.NewCounter(prometheus.CounterOpts{Name: "demindex_features_invalid_total", Help: "Features skipped for schema or geometry errors"})
		m.featuresDuplicate = prometheus.NewCounter(prometheus.CounterOpts{Name: "demindex_features_duplicate_total", Help: "Features rejected as duplicates"})
		m.featuresMissing = prometheus.NewCounter(prometheus.CounterOpts{Name: "demindex_features_missing_total", Help: "Records not found by the check pass"})

		m.jsonFiles = prometheus.NewCounter(prometheus.CounterOpts{Name: "demindex_json_files_total", Help: "JSON group files written"})

		buckets := []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300, 900}
		m.walkDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "demindex_walk_seconds", Help: "Source walk duration", Buckets: buckets})
		m.loadDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "demindex_load_seconds", Help: "Record construction duration", Buckets: buckets})
		m.writeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "demindex_write_seconds", Help: "Index or JSON write duration", Buckets: buckets})
		m.totalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "demindex_run_seconds", Help: "Total run duration", Buckets: buckets})

		prometheus.MustRegister(
			m.filesFound, m.recordsLoaded, m.recordErrors,
			m.featuresWritten, m.featuresInserted, m.featuresInvalid, m.featuresDuplicate, m.featuresMissing,
			m.jsonFiles,
			m.walkDuration, m.loadDuration, m.writeDuration, m.totalDuration,
		)
	})
}

// record helpers - used by the pipeline at the end of a run
func recordRun(r *Result) {
	ingMetrics.init()
	ingMetrics.filesFound.Add(float64(r.FilesFound))
	ingMetrics.recordsLoaded.Add(float64(r.Records))
	ingMetrics.recordErrors.Add(float64(r.RecordErrors))
	ingMetrics.featuresWritten.Add(float64(r.Written))
	ingMetrics.featuresInserted.Add(float64(r.Inserted))
	ingMetrics.featuresInvalid.Add(float64(r.Invalid))
	ingMetrics.featuresDuplicate.Add(float64(r.Duplicates))
	ingMetrics.featuresMissing.Add(float64(len(r.Missing)))
	ingMetrics.jsonFiles.Add(float64(r.JSONFiles))
	observe(ingMetrics.walkDuration, r.WalkDuration)
	observe(ingMetrics.loadDuration, r.LoadDuration)
	observe(ingMetrics.writeDuration, r.WriteDuration)
	observe(ingMetrics.totalDuration, r.TotalDuration)
}

func observe(h prometheus.Histogram, d time.Duration) { h.Observe(d.Seconds()) }

// WriteMetrics writes the default registry to path in the Prometheus text
// format, for collection by a node exporter textfile collector.
func WriteMetrics(path string) error {
	ingMetrics.init()
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
