package scheduler

import (
	"testing"
	"time"

	"github.com/flamerun/flame/pkg/flameapi"
)

func session(id string, minInstances int, pending int, created time.Time) *flameapi.Session {
	return &flameapi.Session{
		ID:           id,
		MinInstances: minInstances,
		Counters:     flameapi.SessionCounters{Pending: pending},
		CreationTime: created,
	}
}

func TestProportionalNoCapacity(t *testing.T) {
	base := time.Now()
	demands := []Demand{{Session: session("s1", 0, 10, base), Want: 10}}
	grants := Proportional(demands, 0)
	if grants["s1"] != 0 {
		t.Fatalf("expected 0 capacity to grant nothing, got %d", grants["s1"])
	}
}

// §8: scheduler output respects min_instances whenever
// sum(min_instances) <= available capacity.
func TestProportionalRespectsMinInstancesFloor(t *testing.T) {
	base := time.Now()
	s1 := session("s1", 1, 10, base)
	s2 := session("s2", 1, 10, base.Add(time.Second))
	grants := Proportional([]Demand{{Session: s1, Want: 10}, {Session: s2, Want: 10}}, 2)
	if grants["s1"] != 1 || grants["s2"] != 1 {
		t.Fatalf("expected each session its floor of 1, got %+v", grants)
	}
}

func TestProportionalEqualSplitWhenDemandExceedsCapacity(t *testing.T) {
	base := time.Now()
	s1 := session("s1", 0, 10, base)
	s2 := session("s2", 0, 10, base.Add(time.Second))
	grants := Proportional([]Demand{{Session: s1, Want: 10}, {Session: s2, Want: 10}}, 4)
	if grants["s1"] != 2 || grants["s2"] != 2 {
		t.Fatalf("expected even split of 4 across two equal demands, got %+v", grants)
	}
}

func TestProportionalRedistributesSurplusToUnsatisfiedDemand(t *testing.T) {
	base := time.Now()
	// s1 wants only 1; s2 wants 5; capacity 4 -> s1 gets 1, s2 gets the rest.
	s1 := session("s1", 0, 1, base)
	s2 := session("s2", 0, 5, base.Add(time.Second))
	grants := Proportional([]Demand{{Session: s1, Want: 1}, {Session: s2, Want: 5}}, 4)
	if grants["s1"] != 1 {
		t.Fatalf("expected s1 capped at its demand of 1, got %d", grants["s1"])
	}
	if grants["s2"] != 3 {
		t.Fatalf("expected s2 to receive the redistributed surplus (3), got %d", grants["s2"])
	}
}

// §8: max_instances = 0 on a session forbids any allocation.
func TestProportionalZeroWantGrantsNothing(t *testing.T) {
	base := time.Now()
	s1 := session("s1", 0, 0, base)
	grants := Proportional([]Demand{{Session: s1, Want: 0}}, 4)
	if grants["s1"] != 0 {
		t.Fatalf("expected 0 want to grant 0, got %d", grants["s1"])
	}
}

func TestProportionalFloorsTieBreakByCreationTimeWhenUnderfunded(t *testing.T) {
	base := time.Now()
	earlier := session("early", 1, 1, base)
	later := session("late", 1, 1, base.Add(time.Second))
	// Only 1 unit of capacity for two sessions each wanting a floor of 1:
	// the earlier-created session should win it.
	grants := Proportional([]Demand{{Session: later, Want: 1}, {Session: earlier, Want: 1}}, 1)
	if grants["early"] != 1 || grants["late"] != 0 {
		t.Fatalf("expected earliest-created session to win scarce floor capacity, got %+v", grants)
	}
}

func TestBindQueueFIFOPerApplication(t *testing.T) {
	q := NewBindQueue()
	q.Push(BindRequest{SessionID: "s1", Application: "A"})
	q.Push(BindRequest{SessionID: "s2", Application: "A"})
	q.Push(BindRequest{SessionID: "s3", Application: "B"})

	if q.Len("A") != 2 {
		t.Fatalf("expected 2 queued for A, got %d", q.Len("A"))
	}
	first, ok := q.Pop("A")
	if !ok || first.SessionID != "s1" {
		t.Fatalf("expected FIFO order to yield s1 first, got %+v, ok=%v", first, ok)
	}
	second, ok := q.Pop("A")
	if !ok || second.SessionID != "s2" {
		t.Fatalf("expected s2 next, got %+v, ok=%v", second, ok)
	}
	if _, ok := q.Pop("A"); ok {
		t.Fatalf("expected queue A to be drained")
	}

	apps := q.Applications()
	if len(apps) != 1 || apps[0] != "B" {
		t.Fatalf("expected only B to remain queued, got %+v", apps)
	}
}

func TestPreemptSetReplaceAndClear(t *testing.T) {
	p := NewPreemptSet()
	p.Replace([]string{"s1", "s2"})
	if !p.Marked("s1") || !p.Marked("s2") {
		t.Fatalf("expected both sessions marked")
	}
	p.Clear("s1")
	if p.Marked("s1") {
		t.Fatalf("expected s1 cleared")
	}
	if !p.Marked("s2") {
		t.Fatalf("expected s2 still marked")
	}
	p.Replace([]string{"s3"})
	if p.Marked("s2") {
		t.Fatalf("expected Replace to drop stale entries")
	}
	if !p.Marked("s3") {
		t.Fatalf("expected s3 marked after replace")
	}
}
