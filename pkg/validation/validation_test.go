package validation

import (
	"strings"
	"testing"
)

func TestValidateEmail(t *testing.T) {
	cases := []struct {
		email string
		valid bool
	}{
		{"doctor@clinic.example", true},
		{"patient.5@health.example.org", true},
		{"", false},
		{"not-an-email", false},
		{"@missing-local.example", false},
	}

	for _, tc := range cases {
		err := ValidateEmail(tc.email)
		if tc.valid && err != nil {
			t.Errorf("ValidateEmail(%q) = %v, want nil", tc.email, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("ValidateEmail(%q) = nil, want error", tc.email)
		}
	}
}

func TestValidateIdentity(t *testing.T) {
	cases := []struct {
		identity string
		valid    bool
	}{
		{"doctor1", true},
		{"patient_5", true},
		{"room-42", true},
		{"", false},
		{"has space", false},
		{strings.Repeat("x", 101), false},
	}

	for _, tc := range cases {
		err := ValidateIdentity(tc.identity)
		if tc.valid && err != nil {
			t.Errorf("ValidateIdentity(%q) = %v, want nil", tc.identity, err)
		}
		if !tc.valid && err == nil {
			t.Errorf("ValidateIdentity(%q) = nil, want error", tc.identity)
		}
	}
}

func TestValidatePassword(t *testing.T) {
	if err := ValidatePassword("secret1"); err != nil {
		t.Errorf("expected valid password, got %v", err)
	}
	if err := ValidatePassword("short"); err == nil {
		t.Error("expected error for short password")
	}
	if err := ValidatePassword(""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestValidateMessageContent(t *testing.T) {
	if err := ValidateMessageContent("hello there"); err != nil {
		t.Errorf("expected valid content, got %v", err)
	}
	if err := ValidateMessageContent("   "); err == nil {
		t.Error("expected error for blank content")
	}
	if err := ValidateMessageContent(strings.Repeat("a", 10001)); err == nil {
		t.Error("expected error for oversized content")
	}
}

func TestValidateRole(t *testing.T) {
	for _, role := range []string{"patient", "doctor", "admin"} {
		if err := ValidateRole(role); err != nil {
			t.Errorf("ValidateRole(%q) = %v, want nil", role, err)
		}
	}
	if err := ValidateRole("nurse"); err == nil {
		t.Error("expected error for unknown role")
	}
}
