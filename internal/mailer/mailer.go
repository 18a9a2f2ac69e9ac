// Package mailer sends the two transactional emails the application needs:
// invitation links for new users and execution reports with small output
// files attached. Delivery is best-effort; callers record failures in the
// execution result instead of aborting on them.
package mailer

import (
	"bytes"
	"fmt"
	"html"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/wneessen/go-mail"

	"github.com/sakif/script-runner/internal/config"
	"github.com/sakif/script-runner/internal/model"
)

// Mailer sends over SMTP with STARTTLS, the way the original deployment
// talked to Gmail.
type Mailer struct {
	cfg     config.SMTP
	baseURL string
	logger  *slog.Logger
}

func New(cfg config.SMTP, baseURL string, logger *slog.Logger) *Mailer {
	return &Mailer{cfg: cfg, baseURL: baseURL, logger: logger}
}

// Configured reports whether credentials are present. An unconfigured
// mailer fails every send with a clear message rather than erroring at
// construction, so the server still starts without SMTP settings.
func (m *Mailer) Configured() bool {
	return m.cfg.Username != "" && m.cfg.Password != ""
}

// SendInvitation emails a registration link for the invitation token.
func (m *Mailer) SendInvitation(toEmail, token string) error {
	if !m.Configured() {
		return fmt.Errorf("mailer: email service not configured")
	}

	registrationURL := fmt.Sprintf("%s/register?token=%s", m.baseURL, token)

	var body bytes.Buffer
	fmt.Fprintf(&body, "<html><body>")
	fmt.Fprintf(&body, "<h2>You're invited to %s</h2>", html.EscapeString(m.cfg.FromName))
	fmt.Fprintf(&body, "<p>Your administrator has invited <strong>%s</strong> to run scripts through the web interface.</p>", html.EscapeString(toEmail))
	fmt.Fprintf(&body, "<p>This invitation is unique to your email address and can only be used once.</p>")
	fmt.Fprintf(&body, `<p><a href="%s">Complete your registration</a></p>`, registrationURL)
	fmt.Fprintf(&body, "<p>If the link does not work, paste this URL into your browser:<br><code>%s</code></p>", registrationURL)
	fmt.Fprintf(&body, "</body></html>")

	msg, err := m.newMessage(toEmail, fmt.Sprintf("You're invited to join %s", m.cfg.FromName), body.String())
	if err != nil {
		return err
	}
	return m.send(msg)
}

// ResultEmail is everything the execution report needs beyond the
// execution row itself.
type ResultEmail struct {
	To          string
	ScriptName  string
	Execution   *model.Execution
	Attachments []string // absolute paths of files small enough to attach
}

// SendExecutionResult emails the outcome of a run: status, stdout/stderr,
// the output file table with download links, and the attachments.
func (m *Mailer) SendExecutionResult(req ResultEmail) error {
	if !m.Configured() {
		return fmt.Errorf("mailer: email service not configured")
	}

	exec := req.Execution
	subject, status := m.subjectFor(req.ScriptName, exec)

	var body bytes.Buffer
	fmt.Fprintf(&body, "<html><body>")
	fmt.Fprintf(&body, "<h2>Script Execution Report</h2>")
	fmt.Fprintf(&body, "<p><strong>Status:</strong> %s</p>", status)
	fmt.Fprintf(&body, "<p><strong>Script:</strong> %s<br><strong>Arguments:</strong> %s<br><strong>Exit code:</strong> %d<br><strong>Execution ID:</strong> %s</p>",
		html.EscapeString(req.ScriptName), html.EscapeString(orNone(exec.Arguments)), exec.ExitCode, exec.ID)

	if exec.StorageDegraded {
		fmt.Fprintf(&body, "<p><strong>Note:</strong> output files could not be moved to permanent storage; file downloads and attachments are unavailable for this run.</p>")
	}

	if len(exec.OutputFiles) > 0 && !exec.StorageDegraded {
		fmt.Fprintf(&body, "<h3>Generated files (%d, %s)</h3><ul>", exec.FileSummary.Total, exec.FileSummary.TotalSizeHuman)
		for _, f := range exec.OutputFiles {
			fmt.Fprintf(&body, `<li>%s (%s, %s) <a href="%s%s">Download</a></li>`,
				html.EscapeString(f.Name), f.SizeHuman, f.Category, m.baseURL, downloadPath(exec.ID, f.Path))
		}
		fmt.Fprintf(&body, "</ul>")
	}

	fmt.Fprintf(&body, "<h3>Standard output</h3><pre>%s</pre>", html.EscapeString(orNone(exec.Stdout)))
	fmt.Fprintf(&body, "<h3>Error output</h3><pre>%s</pre>", html.EscapeString(orNone(exec.Stderr)))
	if exec.ErrorMessage != "" {
		fmt.Fprintf(&body, "<h3>Execution error</h3><pre>%s</pre>", html.EscapeString(exec.ErrorMessage))
	}
	fmt.Fprintf(&body, `<p><a href="%s/dashboard">Open your dashboard</a></p>`, m.baseURL)
	fmt.Fprintf(&body, "</body></html>")

	msg, err := m.newMessage(req.To, subject, body.String())
	if err != nil {
		return err
	}

	for _, path := range req.Attachments {
		if _, err := os.Stat(path); err != nil {
			m.logger.Warn("skipping missing attachment", slog.String("path", path))
			continue
		}
		msg.AttachFile(path, mail.WithFileName(filepath.Base(path)))
	}

	return m.send(msg)
}

func (m *Mailer) subjectFor(scriptName string, exec *model.Execution) (subject, status string) {
	switch {
	case exec.ErrorMessage != "" || exec.TimedOut:
		return fmt.Sprintf("Script execution failed: %s", scriptName), "Failed"
	case exec.ExitCode == 0:
		return fmt.Sprintf("Script execution successful: %s", scriptName), "Success"
	default:
		return fmt.Sprintf("Script execution completed with errors: %s", scriptName), "Completed with errors"
	}
}

func (m *Mailer) newMessage(to, subject, htmlBody string) (*mail.Msg, error) {
	msg := mail.NewMsg()
	if err := msg.FromFormat(m.cfg.FromName, m.cfg.From); err != nil {
		return nil, fmt.Errorf("mailer: invalid from address: %w", err)
	}
	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("mailer: invalid recipient %s: %w", to, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextHTML, htmlBody)
	return msg, nil
}

func (m *Mailer) send(msg *mail.Msg) error {
	client, err := mail.NewClient(m.cfg.Host,
		mail.WithPort(m.cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(m.cfg.Username),
		mail.WithPassword(m.cfg.Password),
		mail.WithTLSPolicy(mail.TLSMandatory),
	)
	if err != nil {
		return fmt.Errorf("mailer: creating SMTP client: %w", err)
	}
	if err := client.DialAndSend(msg); err != nil {
		return fmt.Errorf("mailer: sending message: %w", err)
	}
	return nil
}

// downloadPath builds the URL path for one output file. File names come
// from the script, so every segment is escaped; a space, '&' or '#' in a
// name must not break the link.
func downloadPath(executionID, relPath string) string {
	segments := strings.Split(relPath, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return "/download/" + url.PathEscape(executionID) + "/" + strings.Join(segments, "/")
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
