package util

import "testing"

func TestHashKey(t *testing.T) {
	got := HashKey("B000000001", "great product")
	if got != HashKey("B000000001", "great product") {
		t.Fatalf("expected stable hash, got %s", got)
	}
	if got == HashKey("B000000001great", " product") {
		t.Fatalf("expected part boundaries to matter")
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("hash contains non-hex character: %c", ch)
		}
	}
	if len(got) != 64 {
		t.Fatalf("expected 64 hex characters, got %d", len(got))
	}
}

func TestNormalizeASINs(t *testing.T) {
	valid, invalid := NormalizeASINs([]string{" b000000001 ", "B000000001", "", "bad", "B000000002"})
	if len(valid) != 2 || valid[0] != "B000000001" || valid[1] != "B000000002" {
		t.Fatalf("unexpected valid asins %v", valid)
	}
	if len(invalid) != 1 || invalid[0] != "bad" {
		t.Fatalf("unexpected invalid asins %v", invalid)
	}
	if _, err := NormalizeASIN("B00000000!"); err != ErrInvalidASIN {
		t.Fatalf("expected ErrInvalidASIN, got %v", err)
	}
}
