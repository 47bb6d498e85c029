package durablestreams

import (
	"strconv"
	"time"
)

// cursorEpoch anchors cursor interval numbers so they stay comparable
// across server restarts.
var cursorEpoch = time.Date(2024, 10, 9, 0, 0, 0, 0, time.UTC)

// defaultCursorInterval is the CDN request-collapsing window.
const defaultCursorInterval = 20 * time.Second

// cursorComputer derives a time-bucketed CDN collapsing token from wall
// time. It never applies jitter: a cursor is only useful for collapsing
// identical requests if it corresponds to a real interval boundary, so two
// clients hitting the same bucket always produce the same token and a CDN
// can cache on it.
type cursorComputer struct {
	epoch    time.Time
	interval time.Duration
}

func newCursorComputer(interval time.Duration) *cursorComputer {
	if interval <= 0 {
		interval = defaultCursorInterval
	}
	return &cursorComputer{epoch: cursorEpoch, interval: interval}
}

// current returns the cursor token for right now.
func (c *cursorComputer) current() string {
	intervalNumber := time.Since(c.epoch) / c.interval
	return strconv.FormatInt(int64(intervalNumber), 10)
}

// next returns the response cursor given the client's request cursor (which
// may be empty). The response always reflects the current wall-clock
// bucket: a stale or malformed client cursor is simply replaced.
func (c *cursorComputer) next(clientCursor string) string {
	return c.current()
}

// maxAgeSeconds is the Cache-Control max-age matching the cursor bucket
// width, so a CDN-cached historical read never outlives its bucket.
func (c *cursorComputer) maxAgeSeconds() int {
	return int(c.interval / time.Second)
}
