package moderation

import "testing"

func TestSanitizeMasksContactDetails(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "phone masked",
			in:   "call me at 9876543210 today",
			want: "call me at [phone hidden] today",
		},
		{
			name: "email masked",
			in:   "write to jobs@example.com please",
			want: "write to [email hidden] please",
		},
		{
			name: "clean text untouched",
			in:   "experienced plumber available",
			want: "experienced plumber available",
		},
		{
			name: "formatted phone masked",
			in:   "ring +1 (555) 010-1234 now",
			want: "ring [phone hidden] now",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSanitizeIdempotent(t *testing.T) {
	in := "call 9876543210 or mail jobs@example.com"
	once := Sanitize(in)
	twice := Sanitize(once)
	if once != twice {
		t.Errorf("Sanitize not idempotent: %q vs %q", once, twice)
	}
}
