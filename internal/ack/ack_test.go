package ack

import "testing"

func TestHappyPath_DispatchDoneConfirm(t *testing.T) {
	d := New("t1", 1)
	if err := d.Dispatch(); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if d.State() != InProgress {
		t.Fatalf("expected in-progress, got %s", d.State())
	}
	if err := d.HandlerDone(); err != nil {
		t.Fatalf("handler done: %v", err)
	}
	action, err := d.Confirmed()
	if err != nil {
		t.Fatalf("confirmed: %v", err)
	}
	if action != AckBroker {
		t.Errorf("expected AckBroker, got %v", action)
	}
	if d.State() != Acked {
		t.Errorf("expected acked, got %s", d.State())
	}
}

func TestDecodeFailure_NacksWithoutRequeue(t *testing.T) {
	d := New("t1", 1)
	action, err := d.DecodeFailed()
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if action != NackNoRequeue {
		t.Errorf("expected NackNoRequeue, got %v", action)
	}
	if d.State() != Nacked {
		t.Errorf("expected nacked, got %s", d.State())
	}
}

func TestPublishFailedPermanently_NacksWithoutRequeue(t *testing.T) {
	d := New("t1", 1)
	_ = d.Dispatch()
	_ = d.HandlerDone()
	action, err := d.PublishFailedPermanently()
	if err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if action != NackNoRequeue {
		t.Errorf("expected NackNoRequeue, got %v", action)
	}
}

func TestShutdown_RequeuesNonTerminalDelivery(t *testing.T) {
	d := New("t1", 1)
	_ = d.Dispatch()
	action := d.Shutdown()
	if action != NackRequeue {
		t.Errorf("expected NackRequeue, got %v", action)
	}
	if d.State() != Nacked {
		t.Errorf("expected nacked, got %s", d.State())
	}
}

func TestShutdown_NoOpAfterTerminal(t *testing.T) {
	d := New("t1", 1)
	_ = d.Dispatch()
	_ = d.HandlerDone()
	_, _ = d.Confirmed()
	action := d.Shutdown()
	if action != NoAction {
		t.Errorf("expected NoAction after terminal ack, got %v", action)
	}
}

func TestDoubleConfirm_IsInvalidTransition(t *testing.T) {
	d := New("t1", 1)
	_ = d.Dispatch()
	_ = d.HandlerDone()
	if _, err := d.Confirmed(); err != nil {
		t.Fatalf("first confirm: %v", err)
	}
	if _, err := d.Confirmed(); err == nil {
		t.Fatal("expected error on double confirm (exactly-one-terminal invariant)")
	}
}

func TestDoubleDispatch_IsInvalidTransition(t *testing.T) {
	d := New("t1", 1)
	_ = d.Dispatch()
	if err := d.Dispatch(); err == nil {
		t.Fatal("expected error on double dispatch")
	}
}
