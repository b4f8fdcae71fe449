package lipsync

import (
	"fmt"
	"math"
	"sort"

	"github.com/normanking/cortexlipsync/internal/viseme"
)

// CurateStats counts what happened to one incoming batch.
type CurateStats struct {
	Accepted    int
	Duplicates  int
	Merged      int
	RateLimited int
	Truncated   int
}

// Curator deduplicates, merges and rate-limits events into the pending queue.
// The dedup set lives for one segment; call Reset on playback-stop.
type Curator struct {
	tuning viseme.Tuning
	seen   map[string]struct{}
}

// NewCurator creates a Curator with the given tuning.
func NewCurator(t viseme.Tuning) *Curator {
	return &Curator{
		tuning: t,
		seen:   make(map[string]struct{}),
	}
}

// SetTuning replaces the curator's constants. The dedup set is kept.
func (c *Curator) SetTuning(t viseme.Tuning) {
	c.tuning = t
}

// Reset clears the dedup set.
func (c *Curator) Reset() {
	c.seen = make(map[string]struct{})
}

func (c *Curator) key(e Event) string {
	bucket := int64(math.Round(e.Onset / c.tuning.DedupBucket.Seconds()))
	return fmt.Sprintf("%s@%d", e.Shape, bucket)
}

// Curate folds incoming events into queue and returns the new queue, which
// stays sorted by onset.
//
// Between differently shaped neighbours closer than MinGap the more visible
// event wins. Ties keep the event already in the queue. Every successor
// inside MinGap must give way or the incoming event is dropped. A beaten
// predecessor is truncated at the incoming onset rather than dropped, which
// makes that boundary a substitution; two substitutions never sit back to
// back, so a predecessor that is itself a substitution is replaced instead.
func (c *Curator) Curate(queue []Event, incoming []Event) ([]Event, CurateStats) {
	var stats CurateStats

	batch := make([]Event, len(incoming))
	copy(batch, incoming)
	sort.SliceStable(batch, func(i, j int) bool { return batch[i].Onset < batch[j].Onset })

	mergeGap := c.tuning.MergeGap.Seconds()
	minGap := c.tuning.MinGap.Seconds()

	for _, ev := range batch {
		k := c.key(ev)
		if _, dup := c.seen[k]; dup {
			stats.Duplicates++
			continue
		}
		c.seen[k] = struct{}{}

		idx := sort.Search(len(queue), func(i int) bool { return queue[i].Onset > ev.Onset })

		if idx > 0 {
			prev := &queue[idx-1]
			if prev.Shape == ev.Shape && ev.Onset-prev.End() <= mergeGap+epsilon {
				end := math.Max(prev.End(), ev.End())
				if idx < len(queue) && c.tooClose(*prev, queue[idx]) {
					end = math.Min(end, queue[idx].Onset)
				}
				prev.Duration = math.Max(prev.Duration, end-prev.Onset)
				prev.Peak = math.Max(prev.Peak, ev.Peak)
				stats.Merged++
				continue
			}
		}

		// queue[idx:hi] is swallowed by ev.
		hi, merged, beaten, limited := idx, 0, 0, false
		for hi < len(queue) && queue[hi].Onset-ev.Onset < minGap-epsilon {
			next := queue[hi]
			if next.Shape == ev.Shape {
				if next.Onset-ev.End() > mergeGap+epsilon {
					break
				}
				ev.Duration = math.Max(ev.End(), next.End()) - ev.Onset
				ev.Peak = math.Max(ev.Peak, next.Peak)
				merged++
			} else {
				if !c.beats(ev, next) {
					limited = true
					break
				}
				beaten++
			}
			hi++
		}
		if limited {
			stats.RateLimited++
			continue
		}
		if hi < len(queue) && queue[hi].Shape == ev.Shape && queue[hi].Onset-ev.End() <= mergeGap+epsilon {
			next := queue[hi]
			ev.Duration = math.Max(ev.End(), next.End()) - ev.Onset
			ev.Peak = math.Max(ev.Peak, next.Peak)
			merged++
			hi++
		}

		// queue[lo:idx] is replaced by ev; queue[trunc] ends at ev's onset.
		lo, trunc := idx, -1
		if idx > 0 && c.tooClose(queue[idx-1], ev) {
			prev := queue[idx-1]
			if !c.beats(ev, prev) {
				stats.RateLimited++
				continue
			}
			replace := ev.Onset-prev.Onset <= epsilon || (idx > 1 && c.tooClose(queue[idx-2], prev))
			if !replace {
				trunc = idx - 1
			} else {
				lo = idx - 1
				if idx > 1 && c.tooClose(queue[idx-2], ev) {
					if !c.beats(ev, queue[idx-2]) {
						stats.RateLimited++
						continue
					}
					trunc = idx - 2
				}
			}
		}

		if trunc >= 0 && queue[trunc].End() > ev.Onset {
			queue[trunc].Duration = ev.Onset - queue[trunc].Onset
			stats.Truncated++
		}
		stats.Merged += merged
		stats.RateLimited += beaten + (idx - lo)

		tail := append([]Event{ev}, queue[hi:]...)
		queue = append(queue[:lo], tail...)
		stats.Accepted++
	}

	return queue, stats
}

// tooClose reports whether b follows a with a shape change inside MinGap.
func (c *Curator) tooClose(a, b Event) bool {
	return a.Shape != b.Shape && b.Onset-a.Onset < c.tuning.MinGap.Seconds()-epsilon
}

// beats reports whether incoming should displace an existing neighbour.
func (c *Curator) beats(incoming, existing Event) bool {
	return c.tuning.VisibilityOf(incoming.Shape) > c.tuning.VisibilityOf(existing.Shape)
}
