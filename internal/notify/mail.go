// Package notify tells job owners by email when a candidate asked for their booking link.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/spigell/network-scout/internal/domain"
)

type Config struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	From     string `mapstructure:"from"`
}

var bodyTemplate = template.Must(template.New("intro").Parse(`Hi {{.Company}} team,

A member of our network is interested in your opening and received your booking link.

Name: {{.Name}}
GitHub: {{.Github}}
Email: {{.Email}}
Skills: {{.Skills}}
{{- if .Reason}}

Why we think they fit: {{.Reason}}
{{- end}}
`))

type introData struct {
	Company string
	Name    string
	Github  string
	Email   string
	Skills  string
	Reason  string
}

type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// Mailer sends candidate introductions to a job's contact email.
type Mailer struct {
	from   string
	dialer sender
	logger *zap.Logger
}

func NewMailer(cfg Config, logger *zap.Logger) *Mailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Mailer{
		from:   cfg.From,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.User, cfg.Password),
		logger: logger,
	}
}

// CandidateIntroduced emails the job contact. Jobs without a contact email are skipped.
func (m *Mailer) CandidateIntroduced(_ context.Context, job *domain.JobPosting, c *domain.Candidate) error {
	to := strings.TrimSpace(job.ContactEmail)
	if to == "" {
		return nil
	}

	name := c.DisplayName
	if name == "" {
		name = c.Handle
	}
	data := introData{
		Company: job.CompanyName,
		Name:    name,
		Github:  c.Extracted.GithubUsername,
		Email:   c.Extracted.Email,
		Skills:  strings.Join(append(append([]string(nil), c.Extracted.HardSkills...), c.Extracted.SoftSkills...), ", "),
	}
	if c.CurrentJobMatch != nil {
		data.Reason = c.CurrentJobMatch.MatchReason
	}

	var body bytes.Buffer
	if err := bodyTemplate.Execute(&body, data); err != nil {
		return fmt.Errorf("render intro email: %w", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", m.from)
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", fmt.Sprintf("New candidate for %s", job.CompanyName))
	msg.SetBody("text/plain", body.String())

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send intro email to %s: %w", to, err)
	}

	m.logger.Info("job contact notified", zap.String("job_id", job.ID), zap.String("platform_id", c.PlatformID))
	return nil
}
