package email

import (
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "noreply@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "noreply@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestSendEmailUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	err := svc.SendEmail([]string{"someone@example.com"}, "subject", "body")
	if err == nil {
		t.Fatal("expected error when email is not configured")
	}
}

func TestAllocationWarningBody(t *testing.T) {
	body := AllocationWarningBody("Priya", "Design review", 10, 9.5, 0.5)

	for _, want := range []string{
		"Dear Priya",
		`"Design review"`,
		"Allocated hours: 10.00",
		"Consumed hours: 9.50",
		"00:30:00",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("warning body missing %q:\n%s", want, body)
		}
	}
}
