package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/vimrgb-core/internal/updater"
)

// Measurement names.
const (
	measurementLayoutApply = "layout_apply"
	measurementQueue       = "update_queue"
)

// LayoutApplied records one handled layout request. It never blocks, so
// the client can be registered directly as a session observer.
func (c *Client) LayoutApplied(res updater.Result) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(layoutPoint(res))
}

// WriteQueueStats records the update queue counters.
func (c *Client) WriteQueueStats(stats updater.QueueStats, length int) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(queuePoint(stats, length, time.Now()))
}

func layoutPoint(res updater.Result) *write.Point {
	at := res.At
	if at.IsZero() {
		at = time.Now()
	}
	return write.NewPoint(
		measurementLayoutApply,
		map[string]string{
			"mode":    res.Mode,
			"outcome": string(res.Outcome),
		},
		map[string]any{
			"leds":          res.LEDs,
			"attempts":      res.Attempts,
			"duration_ms":   float64(res.Duration) / float64(time.Millisecond),
			"queue_wait_ms": float64(res.QueueWait) / float64(time.Millisecond),
		},
		at,
	)
}

func queuePoint(stats updater.QueueStats, length int, at time.Time) *write.Point {
	return write.NewPoint(
		measurementQueue,
		nil,
		map[string]any{
			"pushed":    stats.Pushed,
			"dropped":   stats.Dropped,
			"coalesced": stats.Coalesced,
			"length":    length,
		},
		at,
	)
}
