package logschema

import "testing"

func TestValidate(t *testing.T) {
	err := Validate("quote_pass", map[string]interface{}{
		"instrument":  "ASML",
		"pass_id":     "p-1",
		"mid":         100.0,
		"fair":        99.97,
		"half_spread": 0.1,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = Validate("quote_pass", map[string]interface{}{
		"instrument": "ASML",
	})
	if err == nil {
		t.Fatalf("expected error for missing fields")
	}
	if err := Validate("unregistered", nil); err != nil {
		t.Fatalf("unknown events should pass: %v", err)
	}
}

func TestKnownSorted(t *testing.T) {
	names := Known()
	if len(names) != 5 {
		t.Fatalf("expected 5 events, got %d", len(names))
	}
	for i := 1; i < len(names); i++ {
		if names[i-1] > names[i] {
			t.Fatalf("not sorted: %v", names)
		}
	}
}
