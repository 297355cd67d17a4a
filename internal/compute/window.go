// Package compute holds the pure metric computations: trailing-window
// event counting and snapshot-baseline delta resolution. Nothing in this
// package performs I/O.
package compute

import "time"

// WindowCounts is the result of counting events in the two trailing
// windows. Count24h is always a subset of Count7d.
type WindowCounts struct {
	Count24h int
	Count7d  int
}

// CountWindows counts how many of the given event timestamps fall within
// the trailing 24-hour and 7-day windows. An event exactly at a window
// boundary is inside the window.
func CountWindows(events []time.Time, since24h, since7d time.Time) WindowCounts {
	var counts WindowCounts
	for _, ts := range events {
		if ts.Before(since7d) {
			continue
		}
		counts.Count7d++
		if !ts.Before(since24h) {
			counts.Count24h++
		}
	}
	return counts
}
