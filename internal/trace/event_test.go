package trace

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPayload(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want []byte
	}{
		{"byte", Event{Value: 0x41, Size: 1}, []byte{0x41}},
		{"half", Event{Value: 0x1234, Size: 2}, []byte{0x34, 0x12}},
		{"word", Event{Value: 0xDEADBEEF, Size: 4}, []byte{0xEF, 0xBE, 0xAD, 0xDE}},
		{"empty", Event{Value: 0xFF}, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, tt.ev.Payload()); diff != "" {
				t.Errorf("payload mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIsTimeMarker(t *testing.T) {
	if !(Event{Kind: KindTimestamp}).IsTimeMarker() {
		t.Error("local timestamp should be a time marker")
	}
	if !(Event{Kind: KindGlobalTimestamp}).IsTimeMarker() {
		t.Error("global timestamp should be a time marker")
	}
	if (Event{Kind: KindSoftware}).IsTimeMarker() {
		t.Error("software event is not a time marker")
	}
}
