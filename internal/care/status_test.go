package care

import "testing"

func TestNext(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from Status
		e    Event
		want Status
	}{
		{StatusActive, EventDue, StatusNeedsWater},
		{StatusNeedsWater, EventDue, StatusNeedsWater},
		{StatusError, EventDue, StatusError},
		{StatusNeedsWater, EventWatered, StatusActive},
		{StatusError, EventWatered, StatusActive},
		{StatusActive, EventFailure, StatusError},
		{StatusNeedsWater, EventFailure, StatusError},
		{StatusError, EventRecovered, StatusActive},
		{StatusNeedsWater, EventRecovered, StatusNeedsWater},
	}
	for _, tt := range tests {
		if got := Next(tt.from, tt.e); got != tt.want {
			t.Errorf("Next(%s, %s) = %s, want %s", tt.from, tt.e, got, tt.want)
		}
	}
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	if s, err := ParseStatus("needs_water"); err != nil || s != StatusNeedsWater {
		t.Fatalf("ParseStatus = %s, %v", s, err)
	}
	if _, err := ParseStatus("dormant"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
