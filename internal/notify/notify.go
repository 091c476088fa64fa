// Package notify sends a best-effort Slack webhook summary after a release
// or publish run completes. It is optional; its absence (no webhook URL
// configured) changes nothing.
package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"
)

// PackageOutcome is one package's release/publish result, rendered as a
// single bullet line in the Slack message.
type PackageOutcome struct {
	Name    string
	Version string
	Tag     string
}

// Summary is the completion state of one release or publish run.
type Summary struct {
	Command  string // "release" or "publish"
	Success  bool
	Detail   string // optional extra context, e.g. an error message
	Packages []PackageOutcome
}

// NotifyRunComplete posts summary to webhookURL. If webhookURL is empty,
// the NOTIFY_WEBHOOK_URL environment variable is used. If both are empty,
// this is a no-op: a missing webhook must never fail a release.
func NotifyRunComplete(webhookURL string, summary Summary) error {
	if webhookURL == "" {
		webhookURL = os.Getenv("NOTIFY_WEBHOOK_URL")
	}
	if webhookURL == "" {
		return nil
	}

	body, err := json.Marshal(map[string]string{"text": renderText(summary)})
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}
	resp, err := http.Post(webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("notify: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notify: webhook returned %s", resp.Status)
	}
	return nil
}

func renderText(s Summary) string {
	var b strings.Builder
	if s.Success {
		fmt.Fprintf(&b, "✅ %s completed successfully.", s.Command)
	} else {
		fmt.Fprintf(&b, "❌ %s failed.", s.Command)
	}
	if s.Detail != "" {
		b.WriteString(" ")
		b.WriteString(s.Detail)
	}
	for _, p := range s.Packages {
		b.WriteString("\n")
		fmt.Fprintf(&b, "- %s %s", p.Name, p.Version)
		if p.Tag != "" {
			fmt.Fprintf(&b, " (%s)", p.Tag)
		}
	}
	return b.String()
}
