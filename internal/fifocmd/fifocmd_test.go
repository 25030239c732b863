package fifocmd

import (
	"testing"

	"odin-busd/internal/broker"
)

func newTestClient(t *testing.T, db *broker.DB, name string) *broker.InProcessClient {
	t.Helper()
	c, err := broker.NewInProcessClient(db, name, 4)
	if err != nil {
		t.Fatalf("NewInProcessClient(%s): %v", name, err)
	}
	return c
}

func TestApplyLineDirectMessage(t *testing.T) {
	db := broker.New(4, nil, broker.Hooks{})
	sender := newTestClient(t, db, "fifo")
	recv := newTestClient(t, db, "B")

	if err := applyLine(sender, "B hello there"); err != nil {
		t.Fatalf("applyLine: %v", err)
	}

	f := <-recv.Handle.Outbound
	if f.Sender != "fifo" || string(f.Payload()) != "hello there" {
		t.Errorf("got sender=%q payload=%q, want fifo/hello there", f.Sender, f.Payload())
	}
}

func TestApplyLineBroadcastWhenTargetHasWildcard(t *testing.T) {
	db := broker.New(4, nil, broker.Hooks{})
	sender := newTestClient(t, db, "fifo")
	a := newTestClient(t, db, "room.a")
	b := newTestClient(t, db, "room.b")

	if err := applyLine(sender, "room.* go"); err != nil {
		t.Fatalf("applyLine: %v", err)
	}

	if f := <-a.Handle.Outbound; string(f.Payload()) != "go" {
		t.Errorf("room.a payload = %q, want go", f.Payload())
	}
	if f := <-b.Handle.Outbound; string(f.Payload()) != "go" {
		t.Errorf("room.b payload = %q, want go", f.Payload())
	}
}

func TestApplyLinePublish(t *testing.T) {
	db := broker.New(4, nil, broker.Hooks{})
	sender := newTestClient(t, db, "fifo")
	sub := newTestClient(t, db, "S")
	sub.Subscribe("weather/+")

	if err := applyLine(sender, "=weather/oslo cold"); err != nil {
		t.Fatalf("applyLine: %v", err)
	}

	f := <-sub.Handle.Outbound
	if !f.HasTopic || f.Topic != "weather/oslo" || string(f.Payload()) != "cold" {
		t.Errorf("got topic=%q payload=%q, want weather/oslo/cold", f.Topic, f.Payload())
	}
}

func TestApplyLineBlankIsIgnored(t *testing.T) {
	db := broker.New(4, nil, broker.Hooks{})
	sender := newTestClient(t, db, "fifo")
	if err := applyLine(sender, "   "); err != nil {
		t.Errorf("blank line should be a no-op, got error: %v", err)
	}
}

func TestApplyLineMissingPayloadIsRejected(t *testing.T) {
	db := broker.New(4, nil, broker.Hooks{})
	sender := newTestClient(t, db, "fifo")

	if err := applyLine(sender, "justatarget"); err == nil {
		t.Error("expected an error for a line with no payload separator")
	}
	if err := applyLine(sender, "=justatopic"); err == nil {
		t.Error("expected an error for a publish line with no payload separator")
	}
}
