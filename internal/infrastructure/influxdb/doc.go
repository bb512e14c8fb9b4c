// Package influxdb exports layout timing metrics to InfluxDB v2.
//
// Every handled layout request becomes a layout_apply point tagged with
// the mode and outcome, carrying LED count, attempts, write duration and
// queue wait. Queue counters are written periodically as update_queue.
// Writes are batched and non-blocking.
package influxdb
