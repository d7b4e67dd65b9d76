package eventbus

import (
	"sync"
	"testing"
	"time"
)

func TestBus_SubscribeAndPublish(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 10)
	bus.Subscribe("range.completed", received)

	bus.Publish(Event{
		Type:      "range.completed",
		Timestamp: time.Now(),
		Data:      map[string]string{"range": "100-104"},
	})

	select {
	case evt := <-received:
		if evt.Type != "range.completed" {
			t.Errorf("expected range.completed, got %s", evt.Type)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_MultipleSubscribers(t *testing.T) {
	bus := New()
	defer bus.Close()

	ch1 := make(chan Event, 10)
	ch2 := make(chan Event, 10)
	bus.Subscribe("range.completed", ch1)
	bus.Subscribe("range.completed", ch2)

	bus.Publish(Event{Type: "range.completed"})

	for _, ch := range []chan Event{ch1, ch2} {
		select {
		case <-ch:
		case <-time.After(time.Second):
			t.Fatal("subscriber did not receive event")
		}
	}
}

func TestBus_TypeFiltering(t *testing.T) {
	bus := New()
	defer bus.Close()

	completedCh := make(chan Event, 10)
	failedCh := make(chan Event, 10)
	bus.Subscribe("range.completed", completedCh)
	bus.Subscribe("range.failed", failedCh)

	bus.Publish(Event{Type: "range.completed"})

	select {
	case <-completedCh:
	case <-time.After(time.Second):
		t.Fatal("range.completed subscriber did not receive event")
	}

	select {
	case <-failedCh:
		t.Fatal("range.failed subscriber should NOT receive range.completed event")
	case <-time.After(50 * time.Millisecond):
		// good
	}
}

func TestBus_PublishBatch(t *testing.T) {
	bus := New()
	defer bus.Close()

	received := make(chan Event, 100)
	bus.Subscribe("reorg.detected", received)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			bus.Publish(Event{Type: "reorg.detected", Data: n})
		}(i)
	}
	wg.Wait()

	time.Sleep(100 * time.Millisecond)
	if len(received) != 50 {
		t.Errorf("expected 50 events, got %d", len(received))
	}
}
