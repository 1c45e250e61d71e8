package signal

import (
	"github.com/tickwire/tickwire/pkg/models"
	"github.com/tickwire/tickwire/pkg/subkey"
)

// tickOutcome classifies what a realtime kline did to the cache.
type tickOutcome int

const (
	// tickApplied means the tick replaced the open bar or appended a new one.
	tickApplied tickOutcome = iota
	// tickIgnored means the tick was older than the cache tail.
	tickIgnored
	// tickGap means bars are missing between the cache tail and the tick;
	// the series needs a history repair before evaluation can resume.
	tickGap
)

// seriesCache holds the warm bar window for one symbol+interval series.
// Bars are ascending and contiguous; the last bar may still be open. The
// cache only admits itself for evaluation once it holds enough contiguous
// history, so strategies never see a partial window.
//
// Not safe for concurrent use; the engine serializes access per series.
type seriesCache struct {
	symbol   string
	interval string
	capacity int
	required int

	bars  []models.Bar
	ready bool
}

func newSeriesCache(symbol, interval string, capacity, required int) *seriesCache {
	return &seriesCache{
		symbol:   symbol,
		interval: interval,
		capacity: capacity,
		required: required,
	}
}

// load replaces the cache contents with freshly read history. Returns
// whether the cache is now ready.
func (c *seriesCache) load(bars []models.Bar) bool {
	if len(bars) > c.capacity {
		bars = bars[len(bars)-c.capacity:]
	}
	c.bars = append(c.bars[:0], bars...)
	c.ready = len(c.bars) >= c.required && contiguous(c.bars, c.interval)
	return c.ready
}

// apply folds one realtime kline into the cache.
func (c *seriesCache) apply(k models.KlinePayload) tickOutcome {
	if len(c.bars) == 0 {
		return tickGap
	}

	bar := k.Bar()
	tail := c.bars[len(c.bars)-1]
	switch {
	case bar.OpenTime == tail.OpenTime:
		// Same bucket: the open bar's running update, or its close.
		c.bars[len(c.bars)-1] = bar
		return tickApplied
	case bar.OpenTime == subkey.NextOpenTime(tail.OpenTime, c.interval):
		c.bars = append(c.bars, bar)
		if len(c.bars) > c.capacity {
			c.bars = c.bars[1:]
		}
		return tickApplied
	case bar.OpenTime < tail.OpenTime:
		return tickIgnored
	default:
		// At least one bar between the tail and this tick never arrived.
		c.ready = false
		return tickGap
	}
}

// window returns the bars for evaluation. Callers must not mutate.
func (c *seriesCache) window() []models.Bar {
	return c.bars
}

// contiguous reports whether every bar opens exactly where the previous one
// ended.
func contiguous(bars []models.Bar, interval string) bool {
	for i := 1; i < len(bars); i++ {
		if bars[i].OpenTime != subkey.NextOpenTime(bars[i-1].OpenTime, interval) {
			return false
		}
	}
	return true
}
