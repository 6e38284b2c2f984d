// Package metrics provides observability hooks for unit execution and the
// live log stream.
//
// Components receive a Recorder through dependency injection and default to
// NoopRecorder, so metrics collection never requires nil checks at call
// sites. When Prometheus exposure is enabled, the daemon swaps in a
// PrometheusRecorder backed by its registry:
//
//	reg := prometheus.NewRegistry()
//	recorder := metrics.NewPrometheusRecorder(reg)
//	mux.Handle("/metrics", metrics.HTTPHandler(reg))
package metrics
