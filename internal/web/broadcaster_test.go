package web

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/cjeanneret/photobox/internal/booth"
	"github.com/cjeanneret/photobox/internal/logic/capture"
	"github.com/cjeanneret/photobox/internal/logic/compose"
)

func recv(t *testing.T, ch <-chan string) StatusEvent {
	t.Helper()
	select {
	case msg := <-ch:
		var evt StatusEvent
		if err := json.Unmarshal([]byte(msg), &evt); err != nil {
			t.Fatalf("unmarshal %q: %v", msg, err)
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for broadcast")
	}
	return StatusEvent{}
}

func expectNone(t *testing.T, ch <-chan string) {
	t.Helper()
	select {
	case msg := <-ch:
		t.Errorf("unexpected message %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

// ---------- log lines ----------

func TestBroadcaster_LogLine(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	b.Broadcast("error", "Camera unavailable")

	evt := recv(t, ch)
	if evt.Msg != "Camera unavailable" || evt.Level != "error" {
		t.Errorf("event = %+v, want error-level camera message", evt)
	}
	if evt.Kind != "" || evt.Data != nil {
		t.Errorf("log lines carry no kind or data, got %+v", evt)
	}
	if _, err := time.Parse(time.RFC3339, evt.Time); err != nil {
		t.Errorf("timestamp %q: %v", evt.Time, err)
	}
}

func TestBroadcaster_EverySubscriberReceives(t *testing.T) {
	b := NewStatusBroadcaster()
	ch1, unsub1 := b.Subscribe()
	defer unsub1()
	ch2, unsub2 := b.Subscribe()
	defer unsub2()
	if b.Clients() != 2 {
		t.Fatalf("Clients() = %d, want 2", b.Clients())
	}

	b.BroadcastMsg("Photo #1 taken")

	for i, ch := range []<-chan string{ch1, ch2} {
		if evt := recv(t, ch); evt.Msg != "Photo #1 taken" || evt.Level != "info" {
			t.Errorf("subscriber %d: event = %+v", i, evt)
		}
	}
}

func TestBroadcaster_Unsubscribe(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	unsub()
	unsub() // second call is a no-op

	if _, ok := <-ch; ok {
		t.Error("expected channel to be closed after unsubscribe")
	}
	if b.Clients() != 0 {
		t.Errorf("Clients() = %d, want 0", b.Clients())
	}
	b.BroadcastMsg("after unsub") // must not panic on the closed channel
}

func TestBroadcaster_SlowClientMissesMessages(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	for i := 0; i < 70; i++ {
		b.BroadcastMsg("tick")
	}

	count := 0
	for len(ch) > 0 {
		<-ch
		count++
	}
	if count != 64 {
		t.Errorf("expected 64 buffered messages, got %d", count)
	}
}

// ---------- structured events ----------

func TestBroadcaster_PublishSessionEvent(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	publish := EventPublisher(b)
	publish(booth.Event{Kind: booth.EventSession, Session: &capture.Event{
		SessionID: "s1",
		LayoutID:  "L_4_SQUARE",
		Phase:     capture.PhaseCountdown,
		Countdown: 2,
		Shots:     1,
		MaxShots:  4,
		Status:    "Photo #2: ready in 2...",
	}})

	evt := recv(t, ch)
	if evt.Kind != "session" {
		t.Fatalf("kind = %q, want \"session\"", evt.Kind)
	}
	var data map[string]any
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("data: %v", err)
	}
	if data["phase"] != "countdown" || data["status"] != "Photo #2: ready in 2..." {
		t.Errorf("data = %v", data)
	}
	if data["countdown"] != float64(2) || data["max_shots"] != float64(4) {
		t.Errorf("data = %v", data)
	}
}

func TestBroadcaster_PublishCollageEvent(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	EventPublisher(b)(booth.Event{Kind: booth.EventCollage, Collage: &compose.Collage{
		SessionID: "s1",
		LayoutID:  "L_1_SINGLE",
		Failed:    []int{0},
		Settled:   1,
		Total:     1,
	}})

	evt := recv(t, ch)
	if evt.Kind != "collage" {
		t.Fatalf("kind = %q, want \"collage\"", evt.Kind)
	}
	var data map[string]any
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("data: %v", err)
	}
	if _, ok := data["Image"]; ok {
		t.Error("collage pixels must not be sent over the stream")
	}
}

func TestEventPublisher_IgnoresUnknownKinds(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	EventPublisher(b)(booth.Event{Kind: "other"})
	expectNone(t, ch)
}

// ---------- BroadcastWriter ----------

func TestBroadcastWriter_SplitsLines(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	in := "  Composing L_4_SQUARE  \n\nCollage published\n"
	n, err := BroadcastWriter(b).Write([]byte(in))
	if err != nil {
		t.Fatalf("Write error: %v", err)
	}
	if n != len(in) {
		t.Errorf("n = %d, want %d", n, len(in))
	}

	for _, want := range []string{"Composing L_4_SQUARE", "Collage published"} {
		if evt := recv(t, ch); evt.Msg != want {
			t.Errorf("msg = %q, want %q", evt.Msg, want)
		}
	}
	expectNone(t, ch)
}

func TestBroadcastWriter_WhitespaceIgnored(t *testing.T) {
	b := NewStatusBroadcaster()
	ch, unsub := b.Subscribe()
	defer unsub()

	BroadcastWriter(b).Write([]byte("   \n"))
	expectNone(t, ch)
}
