package registry

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Registering the same chip id any number of times leaves exactly one record,
// owned by the most recent registrant.
func TestRegistrationIdempotenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("last registrant owns the chip id", prop.ForAll(
		func(chipID string, conns []string) bool {
			if len(conns) == 0 {
				return true
			}
			r := New()
			for _, c := range conns {
				r.RegisterDevice(chipID, c)
			}

			owner, ok := r.FindConnectionFor(chipID)
			return ok && owner == conns[len(conns)-1] && r.Stats().Devices == 1
		},
		gen.Identifier(),
		gen.SliceOf(gen.Identifier()),
	))

	properties.TestingRun(t)
}

// A client subscribed to a chip id appears exactly once in SubscribersOf,
// regardless of duplicates in its registration list.
func TestSubscriberFanOutProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("each subscriber listed once per chip id", prop.ForAll(
		func(chipIDs []string, target string) bool {
			r := New()
			withTarget := append(append([]string{}, chipIDs...), target, target)
			if _, err := r.RegisterClient("c1", withTarget); err != nil {
				return false
			}
			if _, err := r.RegisterClient("c2", chipIDs); err != nil {
				return false
			}

			subs := r.SubscribersOf(target)
			count := 0
			for _, s := range subs {
				if s == "c1" {
					count++
				}
			}
			return count == 1
		},
		gen.SliceOf(gen.Identifier()),
		gen.Identifier(),
	))

	properties.TestingRun(t)
}

// After a sweep, no remaining device is older than the timeout and every
// evicted one was.
func TestSweepEvictsOnlyStaleProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)
	timeout := 60 * time.Second

	properties.Property("sweep partitions devices by age", prop.ForAll(
		func(ages []int) bool {
			clock := newFakeClock()
			start := clock.Now()
			r := New(WithClock(clock.Now))

			// Each device is registered at its own offset from start.
			for i, age := range ages {
				clock.now = start.Add(time.Duration(age) * time.Second)
				r.RegisterDevice(string(rune('a'+i%26))+string(rune('A'+i/26)), "conn")
			}

			now := start.Add(120 * time.Second)
			r.Sweep(now, timeout)

			for _, d := range r.Devices() {
				if now.Sub(time.UnixMilli(d.LastSeen)) > timeout {
					return false
				}
			}
			return true
		},
		gen.SliceOfN(20, gen.IntRange(0, 120)),
	))

	properties.TestingRun(t)
}
