// Package metric provides the Prometheus metrics of the daemon.
//
//   - prometheus.go: the metric registry and the /metrics handler
//   - collector.go: gauges read from the daemon state at scrape time
//
// Every method is safe on a nil *Registry so components can run
// without metrics in tests.
package metric
