// Package email sends allocation warning notices via SMTP.
package email

import (
	"fmt"
	"net/smtp"
	"strings"

	"tempo/api/internal/util"
)

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
}

// NewService creates a new email service
func NewService(config Config) *Service {
	auth := smtp.PlainAuth("", config.Username, config.Password, config.Host)

	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// SendEmail sends a plain text email
func (s *Service) SendEmail(to []string, subject, body string) error {
	if !s.IsConfigured() {
		return fmt.Errorf("email not configured")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", s.config.FromName, s.config.From)
	}

	msg := []byte(fmt.Sprintf(
		"To: %s\r\n"+
			"From: %s\r\n"+
			"Subject: %s\r\n"+
			"Content-Type: text/plain; charset=UTF-8\r\n"+
			"\r\n"+
			"%s",
		strings.Join(to, ", "),
		from,
		subject,
		body,
	))

	return smtp.SendMail(s.server, s.auth, s.config.From, to, msg)
}

// SendAllocationWarning notifies the assignee that a task is about to exceed
// its allocated hours.
func (s *Service) SendAllocationWarning(to, userName, taskTitle string, allocatedHours, consumedHours, remainingHours float64) error {
	subject := fmt.Sprintf("Task %q is about to exceed its allocated hours", taskTitle)
	body := AllocationWarningBody(userName, taskTitle, allocatedHours, consumedHours, remainingHours)
	return s.SendEmail([]string{to}, subject, body)
}

// AllocationWarningBody builds the plain text notice for a nearly exhausted
// task allocation.
func AllocationWarningBody(userName, taskTitle string, allocatedHours, consumedHours, remainingHours float64) string {
	return fmt.Sprintf(
		"Dear %s,\n\n"+
			"Your task %q will exceed its allocated hours in %s.\n"+
			"Allocated hours: %.2f\n"+
			"Consumed hours: %.2f\n"+
			"Please take necessary action.\n\n"+
			"Regards,\nTempo",
		userName,
		taskTitle,
		util.SplitSeconds(int(remainingHours*3600)).String(),
		allocatedHours,
		consumedHours,
	)
}
