package chunk

import "testing"

func TestSequenceHeaderRoundTrip(t *testing.T) {
	buf := WriteSequenceHeader(SequenceHeader{SequenceNumber: 42, RequestId: 7}, []byte("payload"))
	h, rest, err := ParseSequenceHeader(buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.SequenceNumber != 42 || h.RequestId != 7 {
		t.Fatalf("got %+v, want SequenceNumber=42 RequestId=7", h)
	}
	if string(rest) != "payload" {
		t.Fatalf("rest = %q, want %q", rest, "payload")
	}
}

func TestParseSequenceHeaderShortBuffer(t *testing.T) {
	if _, _, err := ParseSequenceHeader([]byte{1, 2, 3}); err == nil {
		t.Fatalf("expected error for short buffer")
	}
}
