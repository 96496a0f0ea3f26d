package scheduler

import (
	"sort"

	"github.com/flamerun/flame/pkg/flameapi"
)

// Demand describes one Open session's appetite for executor capacity, as
// snapshotted at the start of a tick (§4.D step 1).
type Demand struct {
	Session *flameapi.Session
	// Want is min(pending+running, max_instances or infinity).
	Want int
}

// Policy computes a desired allocation — a mapping from session id to
// number of executors — given each session's demand and the capacity
// available to their shared application. Ties are broken by the caller
// presenting sessions in earliest-creation-time order.
type Policy func(demands []Demand, capacity int) map[string]int

// Proportional is the default policy of §4.D: proportional fair share
// within an application, computed by water-filling. Each session is
// granted its minimum fair share (capacity/|S|), then leftover capacity is
// redistributed to sessions whose demand still exceeds their grant, until
// capacity is exhausted or demand is saturated. min_instances is honoured
// as a floor whenever total capacity allows it.
func Proportional(demands []Demand, capacity int) map[string]int {
	grants := make(map[string]int, len(demands))
	if capacity <= 0 || len(demands) == 0 {
		for _, d := range demands {
			grants[d.Session.ID] = 0
		}
		return grants
	}

	// Deterministic tie-breaking: earliest creation time first.
	ordered := make([]Demand, len(demands))
	copy(ordered, demands)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Session.CreationTime.Before(ordered[j].Session.CreationTime)
	})

	// Floors: min_instances granted unconditionally when capacity allows.
	remaining := capacity
	floorSum := 0
	for _, d := range ordered {
		floorSum += d.Session.MinInstances
	}
	if floorSum <= capacity {
		for _, d := range ordered {
			floor := d.Session.MinInstances
			if floor > d.Want {
				floor = d.Want
			}
			grants[d.Session.ID] = floor
			remaining -= floor
		}
	} else {
		// Not enough capacity even for floors: grant floors in creation
		// order until exhausted (starvation is reported by the caller).
		for _, d := range ordered {
			grants[d.Session.ID] = 0
		}
		for _, d := range ordered {
			floor := d.Session.MinInstances
			if floor > d.Want {
				floor = d.Want
			}
			if floor > remaining {
				floor = remaining
			}
			grants[d.Session.ID] = floor
			remaining -= floor
			if remaining <= 0 {
				break
			}
		}
		return grants
	}

	// Water-fill the remainder: repeatedly grant an equal slice of what's
	// left to every session still under its demand, until capacity runs
	// out or every session is fully satisfied.
	for remaining > 0 {
		active := make([]*Demand, 0, len(ordered))
		for i := range ordered {
			d := &ordered[i]
			if grants[d.Session.ID] < d.Want {
				active = append(active, d)
			}
		}
		if len(active) == 0 {
			break
		}

		share := remaining / len(active)
		if share == 0 {
			// Fewer remaining units than active sessions: hand them out
			// one at a time in creation order.
			for _, d := range active {
				if remaining == 0 {
					break
				}
				grants[d.Session.ID]++
				remaining--
			}
			break
		}

		progressed := false
		for _, d := range active {
			want := d.Want - grants[d.Session.ID]
			give := share
			if give > want {
				give = want
			}
			if give > remaining {
				give = remaining
			}
			if give > 0 {
				grants[d.Session.ID] += give
				remaining -= give
				progressed = true
			}
		}
		if !progressed {
			break
		}
	}

	return grants
}
