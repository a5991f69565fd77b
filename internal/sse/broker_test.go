package sse

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func drain(ch chan []byte) []string {
	var out []string
	for {
		select {
		case msg := <-ch:
			out = append(out, string(msg))
		default:
			return out
		}
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	if b.ClientCount() != 0 {
		t.Fatal("expected 0 clients")
	}
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatal("expected 1 client")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatal("expected 0 clients after unsubscribe")
	}
}

func TestPublishDelivery(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Publish(Event{Type: BlockCreated, Data: map[string]string{"block_id": "b1"}})

	select {
	case msg := <-ch:
		s := string(msg)
		if !strings.Contains(s, "id: 1\n") {
			t.Errorf("missing event id in %q", s)
		}
		if !strings.Contains(s, "event: block.created") {
			t.Errorf("missing event type in %q", s)
		}
		if !strings.Contains(s, `"block_id":"b1"`) {
			t.Errorf("missing data in %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestNotifyThrottlesGraphUpdates(t *testing.T) {
	b := NewBroker(500 * time.Millisecond)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	b.Notify(BlockCreated, map[string]string{"block_id": "a"})
	b.Notify(LinkCreated, map[string]string{"link_id": "l"})
	time.Sleep(50 * time.Millisecond)

	graph, changes := 0, 0
	for _, msg := range drain(ch) {
		if strings.Contains(msg, "event: "+GraphUpdated) {
			graph++
		} else {
			changes++
		}
	}
	if changes != 2 {
		t.Errorf("changes = %d, want 2", changes)
	}
	if graph != 1 {
		t.Errorf("graph.updated = %d, want 1 (throttled)", graph)
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client, got %d", b.ClientCount())
	}

	b.Publish(Event{Type: MergeCompleted, Data: map[string]string{"block_id": "m"}})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	if body := w.Body.String(); !strings.Contains(body, "event: merge.completed") {
		t.Errorf("missing merge.completed in %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not removed after disconnect: %d", b.ClientCount())
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe()
	defer b.Unsubscribe(ch)

	// The client buffer holds 64 messages; the rest must not block.
	for i := 0; i < 70; i++ {
		b.Publish(Event{Type: "test", Data: i})
	}
}

func TestCloseClosesSubscribers(t *testing.T) {
	b := NewBroker(100 * time.Millisecond)
	ch := b.Subscribe()
	if b.ClientCount() != 1 {
		t.Fatal("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Error("subscriber channel should be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}
	if b.ClientCount() != 0 {
		t.Errorf("clients after close = %d", b.ClientCount())
	}

	b.Publish(Event{Type: BlockUpdated})
	b.Notify(BlockDeleted, nil)
	Discard.Notify(BlockDeleted, nil)
}
