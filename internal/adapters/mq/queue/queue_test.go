package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func req(subject string) Request {
	return Request{SubjectID: subject, ContainerPath: "/data/" + subject + ".db"}
}

func TestInMemoryQueue_BasicOperations(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if err := q.Enqueue(ctx, req("s01")); err != nil {
		t.Fatalf("expected enqueue to succeed, got %v", err)
	}
	if l := q.Len(ctx); l != 1 {
		t.Errorf("expected length 1, got %d", l)
	}

	r := <-q.Dequeue(ctx)
	if r.SubjectID != "s01" {
		t.Errorf("expected s01, got %v", r.SubjectID)
	}
	if l := q.Len(ctx); l != 0 {
		t.Errorf("expected length 0, got %d", l)
	}
	if !q.InFlight("s01") {
		t.Error("expected s01 to stay in flight until released")
	}
}

func TestInMemoryQueue_RejectsDuplicateSubject(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(4))
	ctx := context.Background()

	if err := q.Enqueue(ctx, req("s01")); err != nil {
		t.Fatal(err)
	}
	if err := q.Enqueue(ctx, req("s01")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate while queued, got %v", err)
	}

	<-q.Dequeue(ctx)
	if err := q.Enqueue(ctx, req("s01")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate while running, got %v", err)
	}

	q.Release("s01")
	if err := q.Enqueue(ctx, req("s01")); err != nil {
		t.Errorf("expected resubmission after release, got %v", err)
	}
}

func TestInMemoryQueue_Capacity(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	ctx := context.Background()

	for _, s := range []string{"s01", "s02"} {
		if err := q.Enqueue(ctx, req(s)); err != nil {
			t.Fatalf("expected enqueue of %s to succeed, got %v", s, err)
		}
	}
	if err := q.Enqueue(ctx, req("s03")); !errors.Is(err, ErrFull) {
		t.Errorf("expected ErrFull, got %v", err)
	}
	if q.InFlight("s03") {
		t.Error("a rejected subject must not be marked in flight")
	}
	if l := q.Len(ctx); l != 2 {
		t.Errorf("expected length 2, got %d", l)
	}
}

func TestInMemoryQueue_InvalidRequest(t *testing.T) {
	q := NewInMemoryQueue()
	if err := q.Enqueue(context.Background(), Request{}); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestInMemoryQueue_ConcurrentAccess(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(100))
	ctx := context.Background()
	numProducers := 10
	perProducer := 10

	var consumed sync.Map
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range q.Dequeue(ctx) {
				consumed.Store(r.SubjectID, true)
				q.Release(r.SubjectID)
			}
		}()
	}

	var producers sync.WaitGroup
	for i := 0; i < numProducers; i++ {
		producers.Add(1)
		go func(id int) {
			defer producers.Done()
			for j := 0; j < perProducer; j++ {
				subject := fmt.Sprintf("s%d_%d", id, j)
				for {
					err := q.Enqueue(ctx, req(subject))
					if err == nil {
						break
					}
					if !errors.Is(err, ErrFull) {
						t.Errorf("unexpected enqueue error: %v", err)
						return
					}
					time.Sleep(time.Millisecond)
				}
			}
		}(i)
	}
	producers.Wait()
	_ = q.Close()
	wg.Wait()

	count := 0
	consumed.Range(func(_, _ any) bool { count++; return true })
	if count != numProducers*perProducer {
		t.Errorf("expected %d consumed subjects, got %d", numProducers*perProducer, count)
	}
}

func TestInMemoryQueue_GracefulShutdown(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(10))
	ctx := context.Background()

	if err := q.Enqueue(ctx, req("s01")); err != nil {
		t.Fatal(err)
	}
	if q.IsClosed() {
		t.Error("expected queue to be open initially")
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected close to succeed, got error: %v", err)
	}
	if !q.IsClosed() {
		t.Error("expected queue to be closed after Close()")
	}
	if err := q.Enqueue(ctx, req("s02")); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}

	// Queued requests are still delivered before the channel closes.
	var got []string
	timeout := time.After(time.Second)
	ch := q.Dequeue(ctx)
	for done := false; !done; {
		select {
		case r, ok := <-ch:
			if !ok {
				done = true
				break
			}
			got = append(got, r.SubjectID)
		case <-timeout:
			t.Fatal("expected dequeue channel to be closed within timeout")
		}
	}
	if len(got) != 1 || got[0] != "s01" {
		t.Errorf("expected [s01], got %v", got)
	}
	if err := q.Close(); err != nil {
		t.Errorf("expected second close to succeed, got error: %v", err)
	}
}

func TestInMemoryQueue_CancelledDequeueReleasesSubject(t *testing.T) {
	q := NewInMemoryQueue(WithCapacity(2))
	if err := q.Enqueue(context.Background(), req("s01")); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	ch := q.Dequeue(ctx)
	cancel()

	// The forwarding goroutine either delivered before seeing the cancel or
	// gave the subject back.
	deadline := time.Now().Add(time.Second)
	for q.InFlight("s01") && time.Now().Before(deadline) {
		select {
		case r, ok := <-ch:
			if ok {
				q.Release(r.SubjectID)
			}
		default:
			time.Sleep(time.Millisecond)
		}
	}
	if q.InFlight("s01") {
		t.Error("expected s01 to be released")
	}
}
