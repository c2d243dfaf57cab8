package identity

import (
	"errors"
	"strings"
	"testing"

	"github.com/NiklasVd/tell/pkg/common"
)

func TestNewValidatesName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"empty", "", true},
		{"too short", "Al", true},
		{"min length", "Ann", false},
		{"typical", "Cara", false},
		{"max length", "abcdefghij", false},
		{"too long", "abcdefghijk", true},
		{"multibyte counts bytes", "ééééé", false},
		{"multibyte too long", "éééééé", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := New(tt.input)
			if tt.wantErr {
				if !errors.Is(err, common.ErrInvalidName) {
					t.Fatalf("New(%q) error = %v; want ErrInvalidName", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%q) unexpected error: %v", tt.input, err)
			}
			if id.Name != tt.input {
				t.Errorf("New(%q).Name = %q; want %q", tt.input, id.Name, tt.input)
			}
			if id.Token == 0 {
				t.Errorf("New(%q).Token = 0; want creation timestamp", tt.input)
			}
		})
	}
}

func TestTokensAreUnique(t *testing.T) {
	seen := make(map[Identity]bool)
	for i := 0; i < 1000; i++ {
		id, err := New("Ann")
		if err != nil {
			t.Fatalf("New() error: %v", err)
		}
		if seen[id] {
			t.Fatalf("New() returned duplicate identity %v", id)
		}
		seen[id] = true
	}
}

func TestEquality(t *testing.T) {
	a, _ := FromParts("Ann", 42)
	b, _ := FromParts("Ann", 42)
	c, _ := FromParts("Ann", 43)

	if a != b {
		t.Errorf("identities with same name and token differ: %v != %v", a, b)
	}
	if a == c {
		t.Errorf("identities with different tokens are equal: %v == %v", a, c)
	}
	if string(a.Hash()) != string(b.Hash()) {
		t.Error("Hash() differs for equal identities")
	}
	if string(a.Hash()) == string(c.Hash()) {
		t.Error("Hash() equal for different identities")
	}
}

func TestFromParts(t *testing.T) {
	if _, err := FromParts("Ann", 0); !errors.Is(err, common.ErrInvalidTimestamp) {
		t.Errorf("FromParts() with zero token error = %v; want ErrInvalidTimestamp", err)
	}
	if _, err := FromParts("A", 1); !errors.Is(err, common.ErrInvalidName) {
		t.Errorf("FromParts() with short name error = %v; want ErrInvalidName", err)
	}
}

func TestString(t *testing.T) {
	id, _ := FromParts("Bob", 1)
	s := id.String()
	if !strings.HasPrefix(s, "/Bob#") || !strings.HasSuffix(s, "/") {
		t.Errorf("String() = %q; want /Bob#<fingerprint>/", s)
	}
	if len(id.Fingerprint()) != FingerprintLen*2 {
		t.Errorf("Fingerprint() length = %d; want %d", len(id.Fingerprint()), FingerprintLen*2)
	}
}
