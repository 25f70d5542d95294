package email

import (
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
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
				From: "test@example.com",
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
				From: "test@example.com",
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

func TestSendUploadNotification(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "checklist@example.com", FromName: "Closing Docs"})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	svc.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	err := svc.SendUploadNotification("coordinator@example.com", UploadData{
		OperationName: "Coral and Sandy",
		DocumentLabel: "Identificación oficial <INE>",
		PartyName:     "Coral",
		UploadedBy:    "usuario",
		UploadedAt:    time.Date(2026, 2, 6, 10, 30, 0, 0, time.UTC),
		Percent:       13,
		Completed:     1,
		Total:         8,
	})
	if err != nil {
		t.Fatalf("SendUploadNotification() error = %v", err)
	}

	if gotAddr != "smtp.example.com:587" || gotFrom != "checklist@example.com" {
		t.Fatalf("unexpected envelope: %s %s", gotAddr, gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "coordinator@example.com" {
		t.Fatalf("unexpected recipients: %v", gotTo)
	}

	msg := string(gotMsg)
	for _, want := range []string{
		"From: Closing Docs <checklist@example.com>",
		"Subject: [Coral and Sandy] Documento recibido",
		"Avance: 13% (1/8)",
		"Identificación oficial &lt;INE&gt;",
		"06/02/2026 10:30",
		"width: 13%",
	} {
		if !strings.Contains(msg, want) {
			t.Errorf("message missing %q", want)
		}
	}
}

func TestSendHTMLEmailRequiresConfig(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "s", "t", "<p>h</p>"); err == nil {
		t.Fatal("expected error when email is not configured")
	}
}

func TestSendHTMLEmailPropagatesErrors(t *testing.T) {
	svc := NewService(Config{Host: "smtp.example.com", Port: "587", From: "x@example.com"})
	svc.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	if err := svc.SendHTMLEmail([]string{"a@example.com"}, "s", "t", "h"); err == nil {
		t.Fatal("expected send error")
	}
	if err := svc.SendHTMLEmail(nil, "s", "t", "h"); err == nil {
		t.Fatal("expected error without recipients")
	}
}
