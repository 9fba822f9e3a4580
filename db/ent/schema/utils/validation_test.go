package utils

import "testing"

func TestEnumValidator(t *testing.T) {
	v := EnumValidator("analyze", "extract", "load")
	if err := v("extract"); err != nil {
		t.Errorf("extract: unexpected error %v", err)
	}
	if err := v("EXTRACT"); err == nil {
		t.Errorf("expected error for wrong case")
	}
	if err := v(""); err == nil {
		t.Errorf("expected error for empty value")
	}
}
