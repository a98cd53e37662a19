package events

import (
	"context"
	"testing"
	"time"
)

func testEvent(callID string) Event {
	return &BaseEvent{EventType: CallReceived, EventTime: time.Now(), CallUUID: callID}
}

func TestNoopPublisherDiscardsEvents(t *testing.T) {
	p := NewNoopPublisher()
	if err := p.Publish(context.Background(), testEvent("call-1")); err != nil {
		t.Errorf("Publish() error = %v, want nil", err)
	}
	p.PublishAsync(testEvent("call-1"))
	if err := p.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v, want nil", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}

func TestChannelPublisherDeliversPublishedEvents(t *testing.T) {
	p := NewChannelPublisher(2)
	defer p.Close()

	if err := p.Publish(context.Background(), testEvent("call-1")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case e := <-p.Events():
		if e.CallID() != "call-1" {
			t.Errorf("CallID() = %q, want call-1", e.CallID())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestChannelPublisherDropsWhenBufferFull(t *testing.T) {
	p := NewChannelPublisher(1)
	defer p.Close()

	if err := p.Publish(context.Background(), testEvent("call-1")); err != nil {
		t.Fatalf("first Publish() error = %v", err)
	}
	if err := p.Publish(context.Background(), testEvent("call-2")); err != nil {
		t.Fatalf("second Publish() error = %v", err)
	}

	if p.DroppedCount() != 1 {
		t.Errorf("DroppedCount() = %d, want 1", p.DroppedCount())
	}
}

func TestChannelPublisherPublishAsyncDropsWhenFull(t *testing.T) {
	p := NewChannelPublisher(1)
	defer p.Close()

	p.PublishAsync(testEvent("call-1"))
	p.PublishAsync(testEvent("call-2"))

	if p.DroppedCount() != 1 {
		t.Errorf("DroppedCount() = %d, want 1", p.DroppedCount())
	}
}

func TestChannelPublisherPublishAfterCloseIsNoop(t *testing.T) {
	p := NewChannelPublisher(2)
	p.Close()

	if err := p.Publish(context.Background(), testEvent("call-1")); err != nil {
		t.Errorf("Publish() after Close() error = %v, want nil", err)
	}
	p.PublishAsync(testEvent("call-2"))

	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v, want nil", err)
	}
}

func TestChannelPublisherPublishRespectsContextCancellation(t *testing.T) {
	p := NewChannelPublisher(1)
	defer p.Close()

	p.Publish(context.Background(), testEvent("call-1")) // fill the buffer

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Buffer is full and ctx is already cancelled, so the ctx.Done() case is
	// ready and the default (drop) branch is not taken; the call must return
	// without blocking or panicking.
	done := make(chan struct{})
	go func() {
		p.Publish(ctx, testEvent("call-2"))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish() blocked with a full buffer and cancelled context")
	}
}

type fakePublisher struct {
	published  []Event
	publishErr error
	closed     bool
}

func (f *fakePublisher) Publish(ctx context.Context, event Event) error {
	f.published = append(f.published, event)
	return f.publishErr
}
func (f *fakePublisher) PublishAsync(event Event)     { f.published = append(f.published, event) }
func (f *fakePublisher) Flush(ctx context.Context) error { return nil }
func (f *fakePublisher) Close() error                 { f.closed = true; return nil }

func TestMultiPublisherFansOutToAllPublishers(t *testing.T) {
	a := &fakePublisher{}
	b := &fakePublisher{}
	mp := NewMultiPublisher(a, b)

	if err := mp.Publish(context.Background(), testEvent("call-1")); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(a.published) != 1 || len(b.published) != 1 {
		t.Errorf("published = (%d, %d), want (1, 1)", len(a.published), len(b.published))
	}
}

func TestMultiPublisherPublishReturnsLastError(t *testing.T) {
	wantErr := context.DeadlineExceeded
	a := &fakePublisher{publishErr: wantErr}
	b := &fakePublisher{}
	mp := NewMultiPublisher(a, b)

	if err := mp.Publish(context.Background(), testEvent("call-1")); err != wantErr {
		t.Errorf("Publish() error = %v, want %v", err, wantErr)
	}
}

func TestMultiPublisherCloseClosesAll(t *testing.T) {
	a := &fakePublisher{}
	b := &fakePublisher{}
	mp := NewMultiPublisher(a, b)

	if err := mp.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !a.closed || !b.closed {
		t.Error("Close() did not close all underlying publishers")
	}
}

func TestLoggingPublisherDoesNotError(t *testing.T) {
	p := NewLoggingPublisher(nil)
	if err := p.Publish(context.Background(), testEvent("call-1")); err != nil {
		t.Errorf("Publish() error = %v, want nil", err)
	}
	p.PublishAsync(testEvent("call-1"))
	if err := p.Flush(context.Background()); err != nil {
		t.Errorf("Flush() error = %v, want nil", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v, want nil", err)
	}
}
