package escrow

import (
	"strings"
	"testing"
)

func TestNewDealIDShape(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewDealID()
		if len(id) != idLength {
			t.Fatalf("expected %d characters, got %q", idLength, id)
		}
		for _, c := range id {
			if !strings.ContainsRune(idAlphabet, c) {
				t.Fatalf("id %q contains %q outside the alphabet", id, c)
			}
		}
	}
}

func TestNewDealIDDistinct(t *testing.T) {
	seen := make(map[string]bool, 10000)
	for i := 0; i < 10000; i++ {
		id := NewDealID()
		if seen[id] {
			t.Fatalf("duplicate id %q after %d draws", id, i)
		}
		seen[id] = true
	}
}
