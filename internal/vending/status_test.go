package vending

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{StatusPending, StatusPaid, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusDispensing, false},
		{StatusPending, StatusCompleted, false},
		{StatusPending, StatusRefunded, false},

		{StatusPaid, StatusDispensing, true},
		{StatusPaid, StatusFailed, true},
		{StatusPaid, StatusRefunded, true},
		{StatusPaid, StatusPending, false},
		{StatusPaid, StatusCancelled, false},
		{StatusPaid, StatusCompleted, false},

		{StatusDispensing, StatusCompleted, true},
		{StatusDispensing, StatusFailed, true},
		{StatusDispensing, StatusPaid, false},
		{StatusDispensing, StatusRefunded, false},
		{StatusDispensing, StatusCancelled, false},

		// Terminal states admit nothing.
		{StatusCompleted, StatusPending, false},
		{StatusCompleted, StatusPaid, false},
		{StatusCancelled, StatusPaid, false},
		{StatusCancelled, StatusPending, false},
		{StatusRefunded, StatusPaid, false},
		{StatusFailed, StatusPending, false},
		{StatusFailed, StatusPaid, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%q, %q) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	terminal := map[Status]bool{
		StatusCompleted:  true,
		StatusCancelled:  true,
		StatusRefunded:   true,
		StatusFailed:     true,
		StatusPending:    false,
		StatusPaid:       false,
		StatusDispensing: false,
	}

	for status, want := range terminal {
		if got := status.IsTerminal(); got != want {
			t.Errorf("%q.IsTerminal() = %v, want %v", status, got, want)
		}
	}

	if len(TerminalStatuses) != 4 {
		t.Errorf("TerminalStatuses has %d entries, want 4", len(TerminalStatuses))
	}
}

func TestStatusMessage(t *testing.T) {
	tests := []struct {
		status Status
		want   string
	}{
		{StatusPending, "Awaiting payment..."},
		{StatusPaid, "Payment successful! Use your pickup code on the machine."},
		{StatusDispensing, "Dispensing your items..."},
		{StatusCompleted, "Order completed. Please collect your items!"},
		{StatusFailed, "Order failed. Please contact support."},
		{StatusCancelled, "Processing..."},
	}

	for _, tt := range tests {
		if got := StatusMessage(tt.status); got != tt.want {
			t.Errorf("StatusMessage(%q) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
