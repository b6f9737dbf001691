package event

import "testing"

func TestHasRoom(t *testing.T) {
	two := uint32(2)
	zero := uint32(0)

	tests := []struct {
		name     string
		capacity *uint32
		reserved uint32
		want     bool
	}{
		{"unlimited", nil, 1_000_000, true},
		{"below capacity", &two, 1, true},
		{"at capacity", &two, 2, false},
		{"zero capacity", &zero, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := Event{Capacity: tt.capacity}
			if got := e.HasRoom(tt.reserved); got != tt.want {
				t.Fatalf("HasRoom(%d) = %v, want %v", tt.reserved, got, tt.want)
			}
		})
	}
}

func TestAcceptsRegistrations(t *testing.T) {
	for status, want := range map[Status]bool{
		StatusUpcoming:  true,
		StatusActive:    true,
		StatusCancelled: false,
		StatusCompleted: false,
	} {
		if got := (Event{Status: status}).AcceptsRegistrations(); got != want {
			t.Errorf("status %s: got %v want %v", status, got, want)
		}
	}
}

func TestCanManage(t *testing.T) {
	e := Event{OrganizerID: "org-1"}

	if !e.CanManage("org-1", "user") {
		t.Fatal("organizer should manage own event")
	}
	if !e.CanManage("someone", "admin") {
		t.Fatal("admin should manage any event")
	}
	if e.CanManage("someone", "user") {
		t.Fatal("unrelated user must not manage event")
	}
	if (Event{}).CanManage("", "user") {
		t.Fatal("empty organizer must not match empty user")
	}
}
