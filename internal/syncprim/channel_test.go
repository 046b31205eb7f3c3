package syncprim

import (
	"testing"

	"raya/internal/taskid"
	"raya/value"
)

func TestChannelRendezvousCapacityZero(t *testing.T) {
	c := NewChannel(NewChannelID(), 0)
	sender := taskid.Next()

	out, err := c.TrySend(sender, value.BoxI32(1))
	if err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	if out.Delivered {
		t.Fatal("send with no waiting receiver and capacity 0 should block")
	}

	receiver := taskid.Next()
	rout := c.TryReceive(receiver)
	if !rout.Got {
		t.Fatal("receive should immediately take the queued sender's value")
	}
	if rout.Value != value.BoxI32(1) {
		t.Errorf("got %v, want 1", rout.Value)
	}
	if rout.WakeSender != sender {
		t.Errorf("WakeSender = %v, want %v", rout.WakeSender, sender)
	}
}

func TestChannelBufferedSendDoesNotBlock(t *testing.T) {
	c := NewChannel(NewChannelID(), 2)
	sender := taskid.Next()

	out, err := c.TrySend(sender, value.BoxI32(7))
	if err != nil {
		t.Fatalf("TrySend: %v", err)
	}
	if !out.Delivered {
		t.Fatal("send within capacity should deliver immediately")
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1", c.Len())
	}
}

func TestChannelFIFOOrdering(t *testing.T) {
	c := NewChannel(NewChannelID(), 4)
	sender := taskid.Next()

	for i := int32(0); i < 3; i++ {
		if _, err := c.TrySend(sender, value.BoxI32(i)); err != nil {
			t.Fatalf("TrySend(%d): %v", i, err)
		}
	}

	receiver := taskid.Next()
	for i := int32(0); i < 3; i++ {
		out := c.TryReceive(receiver)
		if !out.Got {
			t.Fatalf("receive %d: expected a value", i)
		}
		if out.Value != value.BoxI32(i) {
			t.Errorf("receive %d: got %v, want %d", i, out.Value, i)
		}
	}
}

func TestChannelFullSenderQueuesAndIsWokenOnReceive(t *testing.T) {
	c := NewChannel(NewChannelID(), 1)
	s1, s2 := taskid.Next(), taskid.Next()

	out, _ := c.TrySend(s1, value.BoxI32(1))
	if !out.Delivered {
		t.Fatal("first send should fill the single buffer slot")
	}

	out, _ = c.TrySend(s2, value.BoxI32(2))
	if out.Delivered {
		t.Fatal("second send should block: buffer full, no waiting receiver")
	}

	receiver := taskid.Next()
	rout := c.TryReceive(receiver)
	if !rout.Got || rout.Value != value.BoxI32(1) {
		t.Fatalf("expected to receive the first buffered value, got %+v", rout)
	}
	if rout.WakeSender != s2 {
		t.Errorf("WakeSender = %v, want s2 (its value backfilled the buffer)", rout.WakeSender)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (s2's value now buffered)", c.Len())
	}
}

func TestChannelReceiverBlocksOnEmpty(t *testing.T) {
	c := NewChannel(NewChannelID(), 4)
	receiver := taskid.Next()

	out := c.TryReceive(receiver)
	if out.Got {
		t.Fatal("receive on empty channel with no sender should block")
	}
}

func TestChannelCloseDrainsThenFails(t *testing.T) {
	c := NewChannel(NewChannelID(), 2)
	sender := taskid.Next()
	c.TrySend(sender, value.BoxI32(9))

	c.Close()
	if !c.IsClosed() {
		t.Fatal("expected channel to be closed")
	}

	receiver := taskid.Next()
	out := c.TryReceive(receiver)
	if !out.Got || out.Value != value.BoxI32(9) {
		t.Fatal("closed channel should still drain buffered values")
	}

	out = c.TryReceive(receiver)
	if out.Got {
		t.Fatal("drained closed channel should report no more values")
	}

	if _, err := c.TrySend(sender, value.BoxI32(1)); err == nil {
		t.Fatal("send on closed channel should error")
	}
}

func TestChannelCloseWakesParkedReceivers(t *testing.T) {
	c := NewChannel(NewChannelID(), 1)
	r1, r2 := taskid.Next(), taskid.Next()
	c.TryReceive(r1)
	c.TryReceive(r2)

	woken := c.Close()
	if len(woken) != 2 {
		t.Fatalf("woken = %v, want 2 parked receivers", woken)
	}
}
