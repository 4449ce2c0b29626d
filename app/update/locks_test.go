package update

import (
	"sync"
	"testing"
)

func TestNamespaceLocks_SerializesPerNamespace(t *testing.T) {
	locks := NewNamespaceLocks()

	counter := 0
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("shared")
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	if counter != 50 {
		t.Errorf("Expected 50 serialized increments, got %d", counter)
	}
}

func TestNamespaceLocks_IndependentNamespaces(t *testing.T) {
	locks := NewNamespaceLocks()

	unlockA := locks.Lock("a")
	defer unlockA()

	// A held lock on one namespace must not block another
	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()

	<-done
}
