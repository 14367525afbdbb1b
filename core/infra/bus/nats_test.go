package bus

import "testing"

func TestDirectSubject(t *testing.T) {
	if got := DirectSubject("worker-1"); got != "worker.worker-1.jobs" {
		t.Fatalf("unexpected direct subject: %s", got)
	}
	if got := DirectSubject(""); got != "" {
		t.Fatalf("empty worker id should yield empty subject, got %s", got)
	}
}

func TestNilBusGuards(t *testing.T) {
	var b *NatsBus
	if err := b.Publish("job.sd.relay", nil); err != errNilBus {
		t.Fatalf("expected nil-bus error, got %v", err)
	}
	if err := b.Subscribe("job.sd.relay", "", nil); err != errNilBus {
		t.Fatalf("expected nil-bus error, got %v", err)
	}
	if b.IsConnected() {
		t.Fatalf("nil bus cannot be connected")
	}
	if b.ConnectedURL() != "" {
		t.Fatalf("nil bus has no connected url")
	}
	b.Close()
}
