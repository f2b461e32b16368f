package camera

import (
	"testing"
	"time"
)

func TestBlockingQueueFIFO(t *testing.T) {
	q := NewBlockingQueue[int]()
	for i := 0; i < 5; i++ {
		if !q.Push(i) {
			t.Fatalf("Push(%d) rejected on open queue", i)
		}
	}
	if q.Len() != 5 {
		t.Fatalf("Len = %d, want 5", q.Len())
	}
	for i := 0; i < 5; i++ {
		v, ok := q.Pop()
		if !ok || v != i {
			t.Fatalf("Pop = %d,%v, want %d,true", v, ok, i)
		}
	}
}

func TestBlockingQueueCloseWakesConsumer(t *testing.T) {
	q := NewBlockingQueue[string]()
	done := make(chan bool)
	go func() {
		_, ok := q.Pop()
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	q.Close()

	select {
	case ok := <-done:
		if ok {
			t.Fatal("Pop on closed queue returned an item")
		}
	case <-time.After(time.Second):
		t.Fatal("Close did not wake the blocked consumer")
	}
}

func TestBlockingQueueCloseDiscardsPending(t *testing.T) {
	q := NewBlockingQueue[int]()
	q.Push(1)
	q.Push(2)

	dropped := q.Close()
	if len(dropped) != 2 || dropped[0] != 1 || dropped[1] != 2 {
		t.Fatalf("Close returned %v, want [1 2]", dropped)
	}
	if _, ok := q.Pop(); ok {
		t.Fatal("Pop after Close should report closed")
	}
	if q.Push(3) {
		t.Fatal("Push after Close should be rejected")
	}

	q.Reopen()
	if !q.Push(4) {
		t.Fatal("Push after Reopen should succeed")
	}
	if v, ok := q.Pop(); !ok || v != 4 {
		t.Fatalf("Pop after Reopen = %d,%v", v, ok)
	}
}
