package inbox

import "testing"

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-3, DefaultListLimit},
		{1, 1},
		{50, 50},
		{1000, MaxListLimit},
	}

	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Fatalf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
