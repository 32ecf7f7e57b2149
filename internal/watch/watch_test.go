package watch

import (
	"testing"
	"time"
)

func TestValueGetReturnsInitial(t *testing.T) {
	t.Parallel()

	w := New(42)
	v, seq := w.Get()
	if v != 42 {
		t.Errorf("Get() value = %d, want 42", v)
	}
	if seq != 0 {
		t.Errorf("Get() seq = %d, want 0", seq)
	}
}

func TestValueSetBumpsSeq(t *testing.T) {
	t.Parallel()

	w := New("a")
	w.Set("b")
	v, seq := w.Get()
	if v != "b" {
		t.Errorf("Get() value = %q, want %q", v, "b")
	}
	if seq != 1 {
		t.Errorf("Get() seq = %d, want 1", seq)
	}
}

func TestValueWatchFiresOnSet(t *testing.T) {
	t.Parallel()

	w := New(0)
	done := make(chan struct{})

	go func() {
		<-w.Watch()
		close(done)
	}()

	// give the goroutine a moment to start watching before Set fires
	time.Sleep(10 * time.Millisecond)
	w.Set(1)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch() channel did not fire within 1s of Set")
	}
}

func TestValueWatchDoesNotFireWithoutSet(t *testing.T) {
	t.Parallel()

	w := New(0)
	select {
	case <-w.Watch():
		t.Fatal("Watch() channel fired without a Set")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestValueConcurrentSetGet(t *testing.T) {
	t.Parallel()

	w := New(0)
	stop := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			select {
			case <-stop:
				return
			default:
				w.Set(i)
			}
		}
	}()

	for i := 0; i < 1000; i++ {
		w.Get()
	}
	close(stop)
}
