package pii

import (
	"strings"
	"testing"

	"sentinelgate/gateway/config"
)

func TestLuhnValid(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{"valid visa test number", "4539148803436467", true},
		{"valid visa with spaces", "4539 1488 0343 6467", true},
		{"valid visa with dashes", "4111-1111-1111-1111", true},
		{"valid amex 15 digits", "378282246310005", true},
		{"invalid 16 digits", "4539148803436468", false},
		{"sequential digits fail luhn", "1234567812345678", false},
		{"too short", "411111111111", false},
		{"too long", "41111111111111111111", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := LuhnValid(tt.input); got != tt.want {
				t.Errorf("LuhnValid(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestScanner_Scan_Detection(t *testing.T) {
	scanner := NewScanner(config.PIIActionRedact)

	tests := []struct {
		name      string
		input     string
		wantTypes []string
	}{
		{
			name:      "ssn with dashes",
			input:     "My SSN is 123-45-6789.",
			wantTypes: []string{"SSN"},
		},
		{
			name:      "ssn with spaces",
			input:     "ssn 123 45 6789 on file",
			wantTypes: []string{"SSN"},
		},
		{
			name:      "email",
			input:     "Contact me at user@example.com please",
			wantTypes: []string{"EMAIL"},
		},
		{
			name:      "phone with parens",
			input:     "Call (555) 867-5309 after noon",
			wantTypes: []string{"PHONE"},
		},
		{
			name:      "phone with dots",
			input:     "fax: 555.867.5309",
			wantTypes: []string{"PHONE"},
		},
		{
			name:      "ipv4",
			input:     "Server at 203.0.113.7 is down",
			wantTypes: []string{"IP_ADDRESS"},
		},
		{
			name:      "credit card with spaces",
			input:     "card is 4539 1488 0343 6467 thanks",
			wantTypes: []string{"CREDIT_CARD"},
		},
		{
			name:      "no pii",
			input:     "The quick brown fox jumps over the lazy dog",
			wantTypes: nil,
		},
		{
			name:      "version string is not an ip",
			input:     "upgraded to release 300.1.2.999",
			wantTypes: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := scanner.Scan(tt.input)
			got := result.Types()
			if len(got) != len(tt.wantTypes) {
				t.Fatalf("Types() = %v, want %v", got, tt.wantTypes)
			}
			for i, want := range tt.wantTypes {
				if got[i] != want {
					t.Errorf("Types()[%d] = %q, want %q", i, got[i], want)
				}
			}
		})
	}
}

func TestScanner_Scan_LuhnGatesCreditCards(t *testing.T) {
	scanner := NewScanner(config.PIIActionRedact)

	// 16 digits that fail the Luhn checksum must never be redacted.
	result := scanner.Scan("reference number 4539 1488 0343 6468")
	for _, f := range result.Findings {
		if f.Type == TypeCreditCard {
			t.Errorf("Luhn-invalid sequence detected as credit card: %+v", result.Findings)
		}
	}
}

func TestScanner_Scan_RedactMode(t *testing.T) {
	scanner := NewScanner(config.PIIActionRedact)

	input := "My SSN is 123-45-6789 and my card is 4539 1488 0343 6467."
	result := scanner.Scan(input)

	if result.Clean {
		t.Error("Clean = true, want false in redact mode with findings")
	}
	want := "My SSN is [REDACTED_SSN] and my card is [REDACTED_CC]."
	if result.Redacted != want {
		t.Errorf("Redacted = %q, want %q", result.Redacted, want)
	}

	types := result.Types()
	if len(types) != 2 || types[0] != "SSN" || types[1] != "CREDIT_CARD" {
		t.Errorf("Types() = %v, want [SSN CREDIT_CARD]", types)
	}
	if result.Total != 2 {
		t.Errorf("Total = %d, want 2", result.Total)
	}
}

func TestScanner_Scan_RedactionIdempotent(t *testing.T) {
	scanner := NewScanner(config.PIIActionRedact)

	input := "SSN 123-45-6789, email user@example.com, ip 203.0.113.7"
	first := scanner.Scan(input)
	if first.Redacted == "" {
		t.Fatal("expected redactions on first pass")
	}

	second := scanner.Scan(first.Redacted)
	if !second.Clean || second.Total != 0 {
		t.Errorf("second pass found %d detections in %q, want 0", second.Total, first.Redacted)
	}
}

func TestScanner_Scan_BlockMode(t *testing.T) {
	scanner := NewScanner(config.PIIActionBlock)

	result := scanner.Scan("my email is user@example.com")
	if result.Clean {
		t.Error("Clean = true, want false in block mode")
	}
	if result.Redacted != "" {
		t.Errorf("Redacted = %q, want empty in block mode", result.Redacted)
	}
	if result.Total != 1 {
		t.Errorf("Total = %d, want 1", result.Total)
	}
}

func TestScanner_Scan_LogOnlyMode(t *testing.T) {
	scanner := NewScanner(config.PIIActionLogOnly)

	result := scanner.Scan("my email is user@example.com")
	if !result.Clean {
		t.Error("Clean = false, want true in log_only mode")
	}
	if len(result.Findings) != 1 {
		t.Errorf("Findings = %v, want one EMAIL finding", result.Findings)
	}
}

func TestScanner_Scan_EmptyInput(t *testing.T) {
	scanner := NewScanner(config.PIIActionBlock)
	for _, input := range []string{"", "   ", "\n"} {
		result := scanner.Scan(input)
		if !result.Clean || result.Total != 0 {
			t.Errorf("Scan(%q): clean=%v total=%d, want clean with no findings", input, result.Clean, result.Total)
		}
	}
}

func TestScanner_Scan_MultipleOccurrences(t *testing.T) {
	scanner := NewScanner(config.PIIActionRedact)

	result := scanner.Scan("primary a@b.example and backup c@d.example")
	if result.Total != 2 {
		t.Errorf("Total = %d, want 2", result.Total)
	}
	if len(result.Findings) != 1 || result.Findings[0].Count != 2 {
		t.Errorf("Findings = %+v, want one EMAIL finding with count 2", result.Findings)
	}
	if strings.Count(result.Redacted, "[REDACTED_EMAIL]") != 2 {
		t.Errorf("Redacted = %q, want both emails replaced", result.Redacted)
	}
}
