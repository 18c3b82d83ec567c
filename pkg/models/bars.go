package models

import (
	"sort"
	"time"
)

// Bar is one OHLC sample for a symbol over a fixed time bucket.
type Bar struct {
	Symbol      string    `json:"symbol"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
	BucketStart time.Time `json:"bucket_start"`
}

// FoldBars reduces a tick sequence into per-symbol, per-bucket OHLC bars.
// The input slice is not modified; ticks are ordered internally before the
// fold so callers may pass them in arrival order. Output is sorted by bucket
// start, then symbol, which makes the result deterministic for a given input
// set regardless of ordering.
func FoldBars(ticks []Tick, interval time.Duration) []Bar {
	if len(ticks) == 0 || interval <= 0 {
		return nil
	}

	ordered := make([]Tick, len(ticks))
	copy(ordered, ticks)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp < ordered[j].Timestamp
	})

	type bucketKey struct {
		symbol string
		start  int64
	}

	bars := make(map[bucketKey]Bar)
	for _, t := range ordered {
		start := t.Time().Truncate(interval)
		key := bucketKey{symbol: t.Symbol, start: start.UnixNano()}

		bar, ok := bars[key]
		if !ok {
			bars[key] = Bar{
				Symbol:      t.Symbol,
				Open:        t.Price,
				High:        t.Price,
				Low:         t.Price,
				Close:       t.Price,
				Volume:      t.Volume,
				BucketStart: start,
			}
			continue
		}

		if t.Price > bar.High {
			bar.High = t.Price
		}
		if t.Price < bar.Low {
			bar.Low = t.Price
		}
		bar.Close = t.Price
		bar.Volume += t.Volume
		bars[key] = bar
	}

	out := make([]Bar, 0, len(bars))
	for _, b := range bars {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].BucketStart.Equal(out[j].BucketStart) {
			return out[i].BucketStart.Before(out[j].BucketStart)
		}
		return out[i].Symbol < out[j].Symbol
	})
	return out
}
