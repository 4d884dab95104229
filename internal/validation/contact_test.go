package validation

import "testing"

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"ten digits", "9161234567", "+79161234567", true},
		{"eleven with seven", "79161234567", "+79161234567", true},
		{"eleven with eight", "89161234567", "+79161234567", true},
		{"formatted", "+7 (916) 123-45-67", "+79161234567", true},
		{"too short", "12345", "", false},
		{"too long", "791612345678", "", false},
		{"eleven with wrong prefix", "19161234567", "", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := NormalizePhone(tt.input)
			if ok != tt.ok {
				t.Fatalf("NormalizePhone(%q) ok = %v, want %v", tt.input, ok, tt.ok)
			}
			if got != tt.want {
				t.Fatalf("NormalizePhone(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestIsValidEmail(t *testing.T) {
	valid := []string{"user@example.com", "a.b@mail.ru", "x@y.co"}
	invalid := []string{"", "user", "user@", "@example.com", "user@example", "u ser@example.com", "user@.com"}

	for _, e := range valid {
		if !IsValidEmail(e) {
			t.Errorf("IsValidEmail(%q) = false, want true", e)
		}
	}
	for _, e := range invalid {
		if IsValidEmail(e) {
			t.Errorf("IsValidEmail(%q) = true, want false", e)
		}
	}
}
