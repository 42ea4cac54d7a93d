package digest

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"
)

// JobTimeLayout renders job timestamps in mails.
const JobTimeLayout = "02.01.2006 15:04:05"

// Subject returns the notification subject for n matches.
func Subject(n int) string {
	if n <= 1 {
		return "MATRICULA-BOT | New match found"
	}
	return fmt.Sprintf("MATRICULA-BOT | %d new matches found", n)
}

// BodyData fills the notification body.
type BodyData struct {
	Name           string
	Matches        []Article
	BotVersion     string
	JobID          string
	JobStart       time.Time
	ScraperVersion string
	ScrapePeriod   int
	Keywords       []string
	History        History
}

// Body renders the plain-text notification.
func Body(d BodyData) string {
	name := d.Name
	if name == "" {
		name = "User"
	}
	found := "one new match"
	if len(d.Matches) > 1 {
		found = fmt.Sprintf("%d new matches", len(d.Matches))
	}
	blocks := make([]string, 0, len(d.Matches))
	for i, m := range d.Matches {
		blocks = append(blocks, fmt.Sprintf("- %d -\n", i+1)+formatArticle(m))
	}
	days := "days"
	if d.ScrapePeriod == 1 {
		days = "day"
	}
	recentMarker := ""
	if len(d.History.Recent) == 0 {
		recentMarker = "/"
	}
	recent := make([]string, 0, len(d.History.Recent))
	for _, j := range d.History.Recent {
		recent = append(recent, fmt.Sprintf("- %s - %d matches", j.CreatedAt.Format(JobTimeLayout), len(j.Matches)))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Dear %s,\n\nin the last scheduled interval period I found %s:\n\n", name, found)
	b.WriteString(strings.Join(blocks, "\n\n"))
	b.WriteString("\n\n---------- END OF MESSAGE ----------\n\n")
	b.WriteString("This message was automatically generated on your behalf by the MATRICULA-BOT.\n")
	b.WriteString("This bot frequently searches https://data.matricula-online.eu/en/nachrichten/ in a specified interval and with a set of keywords according to your settings (see below).\n")
	b.WriteString("You will be notified if at least one match was found in the newsfeed article of this interval.\n")
	b.WriteString("Note that this is prone to errors, because job recovery is not supported (e.g. system shutdown = lost interval).\n\n")
	fmt.Fprintf(&b, "- bot version: v%s\n", d.BotVersion)
	fmt.Fprintf(&b, "- job id: %s\n", d.JobID)
	fmt.Fprintf(&b, "- job date: %s\n", d.JobStart.Format(JobTimeLayout))
	fmt.Fprintf(&b, "- matricula-crawler version: v%s\n", d.ScraperVersion)
	fmt.Fprintf(&b, "- scrape period: %d %s (deduplicated)\n", d.ScrapePeriod, days)
	fmt.Fprintf(&b, "- keywords: %s\n\n", strings.Join(d.Keywords, ", "))
	b.WriteString("The following log lists this bot's recent activity since the last message sent to you. Ensure that the bot is running as expected.\n\n")
	fmt.Fprintf(&b, "Total jobs: %d\n", d.History.Total)
	fmt.Fprintf(&b, "Recent jobs: %s\n", recentMarker)
	b.WriteString(strings.Join(recent, "\n"))
	b.WriteString("\n")
	return b.String()
}

func formatArticle(a Article) string {
	headline := fmt.Sprintf("(%s) %s", a.Date.Format("2006-01-02"), a.Headline)
	return fmt.Sprintf("\n\t%s\n\t%s\n\t%s\n\t[%s]\n", headline, strings.Repeat("-", len([]rune(headline))), a.Preview, a.URL)
}

// Message renders the raw mail with From, To and Subject headers.
func Message(from, to, subject, body string) []byte {
	return []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s",
		from, to, subject, strings.ReplaceAll(body, "\n", "\r\n")))
}

// MailConfig holds SMTP settings.
type MailConfig struct {
	From     string
	Password string
	To       string
	Server   string
	Port     int
	// Timeout bounds the whole SMTP exchange. Zero means 30s.
	Timeout time.Duration
}

// SMTPNotifier sends notifications over implicit-TLS SMTP.
type SMTPNotifier struct {
	cfg MailConfig
	// dial opens the connection. Tests replace it.
	dial func(ctx context.Context, addr string) (net.Conn, error)
}

// NewSMTPNotifier validates cfg.
func NewSMTPNotifier(cfg MailConfig) (*SMTPNotifier, error) {
	switch {
	case cfg.From == "":
		return nil, fmt.Errorf("mail.from is required")
	case cfg.To == "":
		return nil, fmt.Errorf("mail.to is required")
	case cfg.Server == "":
		return nil, fmt.Errorf("mail.smtp_server is required")
	case cfg.Port <= 0:
		return nil, fmt.Errorf("mail.smtp_port must be > 0")
	}
	n := &SMTPNotifier{cfg: cfg}
	n.dial = func(ctx context.Context, addr string) (net.Conn, error) {
		d := &tls.Dialer{Config: &tls.Config{ServerName: cfg.Server, MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", addr)
	}
	return n, nil
}

// Notify sends one mail. Failures are not retried.
func (n *SMTPNotifier) Notify(ctx context.Context, note Notification) error {
	timeout := n.cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(n.cfg.Server, strconv.Itoa(n.cfg.Port))
	conn, err := n.dial(ctx, addr)
	if err != nil {
		return fmt.Errorf("connect %s: %w", addr, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	client, err := smtp.NewClient(conn, n.cfg.Server)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if n.cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", n.cfg.From, n.cfg.Password, n.cfg.Server)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}
	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("smtp mail from: %w", err)
	}
	if err := client.Rcpt(n.cfg.To); err != nil {
		return fmt.Errorf("smtp rcpt to: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data: %w", err)
	}
	if _, err := w.Write(Message(n.cfg.From, n.cfg.To, note.Subject, note.Body)); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finish message: %w", err)
	}
	if err := client.Quit(); err != nil {
		return fmt.Errorf("smtp quit: %w", err)
	}
	return nil
}
