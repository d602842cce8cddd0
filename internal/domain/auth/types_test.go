package auth

import (
	"testing"
	"time"
)

func TestIdentity_Expired(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		id   Identity
		want bool
	}{
		{"zero expiry", Identity{UserID: "u"}, false},
		{"future", Identity{ExpiresAt: now.Add(time.Minute)}, false},
		{"exactly now", Identity{ExpiresAt: now}, true},
		{"past", Identity{ExpiresAt: now.Add(-time.Second)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.id.Expired(now); got != tt.want {
				t.Fatalf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
