package message

import "testing"

func TestNextRequestIDMonotonic(t *testing.T) {
	first := NextRequestID()
	second := NextRequestID()
	if second <= first {
		t.Fatalf("expected monotonic ids, got %d then %d", first, second)
	}
}

func TestInvocationAttachments(t *testing.T) {
	inv := &Invocation{Method: "Echo"}
	if got := inv.Attachment(AttachmentGroup); got != "" {
		t.Fatalf("expected empty attachment on nil map, got %q", got)
	}

	inv.SetAttachment(AttachmentGroup, "dev")
	if got := inv.Attachment(AttachmentGroup); got != "dev" {
		t.Fatalf("expected dev, got %q", got)
	}
}

func TestStatusString(t *testing.T) {
	cases := map[Status]string{
		OK:              "OK",
		ClientTimeout:   "CLIENT_TIMEOUT",
		ServerTimeout:   "SERVER_TIMEOUT",
		ChannelInactive: "CHANNEL_INACTIVE",
		Status(0xFF):    "UNKNOWN",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestNewEventRequest(t *testing.T) {
	req := NewEventRequest(true)
	if !req.Event || !req.TwoWay {
		t.Fatalf("expected two-way event request, got %+v", req)
	}
}
