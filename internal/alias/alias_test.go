package alias

import (
	"fmt"
	"strings"
	"testing"
)

func TestCodeIsDeterministic(t *testing.T) {
	first := Code("auction-42", "bidder-7")
	for i := 0; i < 100; i++ {
		if got := Code("auction-42", "bidder-7"); got != first {
			t.Fatalf("Code changed between calls: %q vs %q", got, first)
		}
	}
}

func TestCodeGoldenVectors(t *testing.T) {
	// FNV-1a 32-bit over "auctionID:userID", mod 36^4, base-36 upper, width 4.
	tests := []struct {
		auctionID string
		userID    string
		want      string
	}{
		{"a1", "u1", "EBFP"},
		{"a2", "u1", "N0VU"},
		{"a1", "u2", "FICS"},
		{"room-1", "u1", "BPPO"},
		{"room-2", "u1", "49KR"},
		{"auction-42", "bidder-7", "D7GH"},
		{"auction-1", "user-9", "IE2Z"},
	}

	for _, tt := range tests {
		if got := Code(tt.auctionID, tt.userID); got != tt.want {
			t.Errorf("Code(%q, %q) = %q, want %q", tt.auctionID, tt.userID, got, tt.want)
		}
	}
}

func TestSameUserDiffersAcrossAuctions(t *testing.T) {
	a := Code("room-1", "u1")
	b := Code("room-2", "u1")
	if a == b {
		t.Fatalf("same user produced identical codes %q in different auctions", a)
	}
}

func TestLabelFormat(t *testing.T) {
	for i := 0; i < 200; i++ {
		userID := fmt.Sprintf("user-%d", i)
		label := Label("auction-1", userID)

		if !strings.HasPrefix(label, "Bidder ") {
			t.Fatalf("label %q missing prefix", label)
		}
		code := strings.TrimPrefix(label, "Bidder ")
		if len(code) != 4 {
			t.Fatalf("code %q is not fixed width 4", code)
		}
		for _, r := range code {
			if !strings.ContainsRune("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ", r) {
				t.Fatalf("code %q contains non-base36 rune %q", code, r)
			}
		}
	}
}

// The reserved "You" literal belongs to the reconciler's self-substitution;
// the hashing path must never emit it.
func TestHashPathNeverProducesYou(t *testing.T) {
	for i := 0; i < 500; i++ {
		userID := fmt.Sprintf("u-%d", i)
		if Code("a1", userID) == "You" || Label("a1", userID) == "You" {
			t.Fatalf("hash path produced reserved literal for %q", userID)
		}
	}
}
