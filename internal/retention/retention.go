// Package retention decides which historical image tags of a definition are purged.
//
// A purgeable tag has the shape `repo:name:timestamp` where the timestamp is
// not "latest". Tags carrying the current commit are never purged and count
// against the window, so the window is the number of images left on the host.
package retention

import (
	"sort"
	"strconv"
	"strings"
)

// DefaultWindow is the number of images kept when no window is configured.
const DefaultWindow = 4

// Select returns the tags to purge, oldest first, or nil when nothing is due.
func Select(tags []string, commit string, window int) []string {
	if window <= 0 {
		window = DefaultWindow
	}
	if len(tags) <= window {
		return nil
	}

	current := 0
	type stamped struct {
		tag string
		ts  int64
	}
	var eligible []stamped
	for _, tag := range tags {
		ts, ok := timestamp(tag)
		if commit != "" && strings.Contains(tag, commit) {
			if ok {
				current++
			}
			continue
		}
		if !ok {
			continue
		}
		eligible = append(eligible, stamped{tag: tag, ts: ts})
	}

	keep := window - current
	if keep < 0 {
		keep = 0
	}
	if len(eligible) <= keep {
		return nil
	}

	// newest first, then drop the survivors
	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].ts > eligible[j].ts })
	doomed := eligible[keep:]

	out := make([]string, len(doomed))
	for i := range doomed {
		out[len(doomed)-1-i] = doomed[i].tag
	}
	return out
}

// timestamp parses the third segment of a structured tag. Segments that are
// not numbers sort as zero, matching the historical behaviour of the fleet.
func timestamp(tag string) (int64, bool) {
	parts := strings.Split(tag, ":")
	if len(parts) != 3 || parts[2] == "latest" {
		return 0, false
	}
	ts, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return 0, true
	}
	return ts, true
}
