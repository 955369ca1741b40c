package buffer

import (
	"reflect"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNewRingBuffer(t *testing.T) {
	rb := NewRingBuffer[int](100)
	if rb.Cap() != 100 {
		t.Errorf("expected capacity 100, got %d", rb.Cap())
	}
	if rb.Len() != 0 {
		t.Errorf("expected length 0, got %d", rb.Len())
	}

	// Zero and negative capacities fall back to 1
	if c := NewRingBuffer[int](0).Cap(); c != 1 {
		t.Errorf("expected capacity 1 for zero input, got %d", c)
	}
	if c := NewRingBuffer[int](-5).Cap(); c != 1 {
		t.Errorf("expected capacity 1 for negative input, got %d", c)
	}
}

func TestRingBuffer_Push(t *testing.T) {
	rb := NewRingBuffer[string](3)
	rb.Push("a")
	rb.Push("b")

	if rb.Len() != 2 {
		t.Errorf("expected length 2, got %d", rb.Len())
	}
	if got := rb.Items(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("expected [a b], got %v", got)
	}
}

func TestRingBuffer_PushOverflow(t *testing.T) {
	rb := NewRingBuffer[int](3)
	for i := 1; i <= 5; i++ {
		rb.Push(i)
	}

	if got := rb.Items(); !reflect.DeepEqual(got, []int{3, 4, 5}) {
		t.Errorf("expected [3 4 5], got %v", got)
	}
	if rb.Len() != 3 {
		t.Errorf("expected length 3, got %d", rb.Len())
	}
}

func TestRingBuffer_Last(t *testing.T) {
	rb := NewRingBuffer[int](4)
	if got := rb.Last(2); got != nil {
		t.Errorf("expected nil for empty buffer, got %v", got)
	}

	for i := 1; i <= 6; i++ {
		rb.Push(i)
	}

	if got := rb.Last(2); !reflect.DeepEqual(got, []int{5, 6}) {
		t.Errorf("expected [5 6], got %v", got)
	}
	if got := rb.Last(10); !reflect.DeepEqual(got, []int{3, 4, 5, 6}) {
		t.Errorf("expected [3 4 5 6], got %v", got)
	}
	if got := rb.Last(0); got != nil {
		t.Errorf("expected nil for zero limit, got %v", got)
	}

	// Returned slices are copies
	got := rb.Last(1)
	got[0] = 99
	if again := rb.Last(1); again[0] != 6 {
		t.Errorf("Last should return a copy, got %v", again)
	}
}

func TestRingBuffer_Clear(t *testing.T) {
	rb := NewRingBuffer[int](3)
	rb.Push(1)
	rb.Push(2)

	rb.Clear()

	if rb.Len() != 0 {
		t.Errorf("expected length 0 after clear, got %d", rb.Len())
	}
	if got := rb.Items(); got != nil {
		t.Errorf("expected nil after clear, got %v", got)
	}

	// Should be usable again after clear
	rb.Push(7)
	if got := rb.Items(); !reflect.DeepEqual(got, []int{7}) {
		t.Errorf("expected [7], got %v", got)
	}
}

func TestRingBuffer_Concurrent(t *testing.T) {
	rb := NewRingBuffer[int](50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				rb.Push(i)
				_ = rb.Last(5)
			}
		}()
	}
	wg.Wait()

	if rb.Len() != 50 {
		t.Errorf("expected length 50, got %d", rb.Len())
	}
}

// The buffer always holds the newest min(len, cap) pushed items in order.
func TestRingBufferKeepsNewestProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	properties.Property("items are the tail of the pushed sequence", prop.ForAll(
		func(capacity int, values []int) bool {
			rb := NewRingBuffer[int](capacity)
			for _, v := range values {
				rb.Push(v)
			}

			want := values
			if len(want) > capacity {
				want = want[len(want)-capacity:]
			}
			got := rb.Items()
			if len(want) == 0 {
				return got == nil
			}
			return reflect.DeepEqual(got, want)
		},
		gen.IntRange(1, 20),
		gen.SliceOf(gen.Int()),
	))

	properties.TestingRun(t)
}
