// Package output provides terminal output utilities for deploygate.
//
// This package includes:
//   - Check-line rendering for safety gate reports
//   - Deployment previews and outcomes
//   - Tables for audit history and templates
//   - A spinner for blocking management-service calls
//
// Renderers return strings and use ASCII layout; ANSI colour is added only
// when stdout is a terminal and NO_COLOR is unset.
package output

import (
	"fmt"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"

	"github.com/blackwell-systems/deploygate/internal/audit"
	"github.com/blackwell-systems/deploygate/internal/deploy"
	"github.com/blackwell-systems/deploygate/internal/gate"
	"github.com/blackwell-systems/deploygate/internal/store"
	"github.com/blackwell-systems/deploygate/internal/templates"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

// IsColorEnabled returns true if ANSI color codes should be emitted.
// It checks that os.Stdout is a TTY and that the NO_COLOR env var is not set.
func IsColorEnabled() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return isatty.IsTerminal(os.Stdout.Fd())
}

// colorize wraps text in the given ANSI color code if color is enabled,
// otherwise returns the plain text.
func colorize(color, text string) string {
	if IsColorEnabled() {
		return color + text + colorReset
	}
	return text
}

func statusMark(s gate.Status) string {
	switch s {
	case gate.StatusPass:
		return colorize(colorGreen, "✓")
	case gate.StatusFail:
		return colorize(colorRed, "✗")
	case gate.StatusSkipped:
		return colorize(colorYellow, "–")
	default:
		return colorize(colorGray, "·")
	}
}

// RenderReport renders one line per safety check followed by the verdict.
func RenderReport(r *gate.Report) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Safety checks for %q → %q\n\n", r.Request.DeployableName, r.Request.CollectionName)
	for _, c := range r.Checks {
		fmt.Fprintf(&sb, "  %s %d. %-24s %s\n", statusMark(c.Status), int(c.ID), c.Name(), c.Reason)
	}
	sb.WriteString("\n")

	if r.Passed() {
		sb.WriteString(colorize(colorGreen, "All checks passed."))
		sb.WriteString("\n")
		return sb.String()
	}
	n := len(r.Blocking())
	noun := "checks"
	if n == 1 {
		noun = "check"
	}
	sb.WriteString(colorize(colorRed, fmt.Sprintf("Deployment blocked: %d %s did not pass.", n, noun)))
	sb.WriteString("\n")
	return sb.String()
}

// RenderPreview renders the confirmation summary for a deployment.
func RenderPreview(p deploy.Preview, cfg deploy.DeploymentConfig) string {
	var sb strings.Builder

	kind := "Application"
	versionLabel := "Version"
	if p.Kind == deploy.KindUpdateGroup {
		kind = "Software update group"
		versionLabel = "Updates"
	}

	sb.WriteString(colorize(colorBold, "Deployment preview"))
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("─", 50))
	sb.WriteString("\n")
	fmt.Fprintf(&sb, "%-14s %s\n", kind+":", p.Name)
	fmt.Fprintf(&sb, "%-14s %s\n", versionLabel+":", p.VersionLabel)
	fmt.Fprintf(&sb, "%-14s %s (%s)\n", "Collection:", p.CollectionName, p.CollectionID)
	fmt.Fprintf(&sb, "%-14s %s\n", "Devices:", humanize.Comma(int64(p.MemberCount)))
	fmt.Fprintf(&sb, "%-14s %s\n", "Purpose:", cfg.Purpose)
	fmt.Fprintf(&sb, "%-14s %s\n", "Available:", formatTimestamp(cfg.AvailableAt))
	if cfg.Purpose == deploy.PurposeRequired {
		fmt.Fprintf(&sb, "%-14s %s (%s)\n", "Deadline:", formatTimestamp(cfg.DeadlineAt),
			humanize.RelTime(cfg.DeadlineAt, cfg.AvailableAt, "before available", "after available"))
	}
	fmt.Fprintf(&sb, "%-14s %s\n", "Notify:", cfg.Notification)

	var flags []string
	if cfg.OverrideServiceWindow {
		flags = append(flags, "override service window")
	}
	if cfg.RebootOutsideServiceWindow {
		flags = append(flags, "reboot outside service window")
	}
	if cfg.AllowMeteredConnection {
		flags = append(flags, "allow metered connection")
	}
	if len(flags) > 0 {
		fmt.Fprintf(&sb, "%-14s %s\n", "Options:", strings.Join(flags, ", "))
	}
	if cfg.Comment != "" {
		fmt.Fprintf(&sb, "%-14s %s\n", "Comment:", cfg.Comment)
	}
	return sb.String()
}

// RenderOutcome renders the terminal result of an execution attempt, with
// a warning when the audit record could not be written.
func RenderOutcome(out deploy.Outcome, logErr error) string {
	var sb strings.Builder
	if out.Success {
		sb.WriteString(colorize(colorGreen, "✓ Deployment created"))
		fmt.Fprintf(&sb, " (ID %s)\n", out.DeploymentID)
	} else {
		sb.WriteString(colorize(colorRed, "✗ Deployment failed"))
		fmt.Fprintf(&sb, ": %s\n", out.ErrorDetail)
	}
	if logErr != nil {
		sb.WriteString(colorize(colorYellow, "⚠ Warning: the audit record was not written"))
		fmt.Fprintf(&sb, ": %v\n", logErr)
	}
	return sb.String()
}

// RenderHistoryTable renders audit records oldest first.
func RenderHistoryTable(records []audit.Record) string {
	if len(records) == 0 {
		return "No deployments recorded.\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-16s %-12s %-28s %-12s %-24s %8s  %s\n",
		"When", "Actor", "Deployable", "Version", "Collection", "Devices", "Result")
	sb.WriteString(strings.Repeat("─", 120))
	sb.WriteString("\n")

	for _, r := range records {
		result := r.Result
		if r.Succeeded() {
			result = colorize(colorGreen, result)
		} else {
			result = colorize(colorRed, truncate(result, 40))
		}
		fmt.Fprintf(&sb, "%-16s %-12s %-28s %-12s %-24s %8s  %s\n",
			formatRelativeTime(r.Timestamp),
			truncate(r.Actor, 12),
			truncate(r.DeployableName, 28),
			truncate(r.DeployableVersion, 12),
			truncate(r.CollectionName, 24),
			humanize.Comma(int64(r.MemberCount)),
			result)
	}
	return sb.String()
}

// RenderHistoryLine renders one record on a single line, for --follow.
func RenderHistoryLine(r audit.Record) string {
	mark := colorize(colorGreen, "✓")
	if !r.Succeeded() {
		mark = colorize(colorRed, "✗")
	}
	line := fmt.Sprintf("%s %s %s deployed %s (%s) to %s [%s devices]",
		mark, formatTimestamp(r.Timestamp), r.Actor, r.DeployableName, r.DeployableVersion,
		r.CollectionName, humanize.Comma(int64(r.MemberCount)))
	if r.DeploymentID != "" {
		line += " id=" + r.DeploymentID
	}
	if !r.Succeeded() {
		line += ": " + r.Result
	}
	return line + "\n"
}

// RenderCounts renders a one-line summary of indexed history.
func RenderCounts(c store.Counts) string {
	return fmt.Sprintf("%s deployments, %s succeeded, %s failed\n",
		humanize.Comma(int64(c.Total)), humanize.Comma(int64(c.Succeeded)), humanize.Comma(int64(c.Failed)))
}

// RenderTemplateTable renders the loaded templates.
func RenderTemplateTable(all []templates.Template) string {
	if len(all) == 0 {
		return "No templates found.\n"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%-24s %-10s %-26s %-9s %s\n", "Template", "Purpose", "Notification", "Deadline", "Options")
	sb.WriteString(strings.Repeat("─", 90))
	sb.WriteString("\n")
	for _, t := range all {
		deadline := "-"
		if t.Purpose == deploy.PurposeRequired {
			deadline = fmt.Sprintf("+%dh", t.DefaultDeadlineOffsetHours)
		}
		fmt.Fprintf(&sb, "%-24s %-10s %-26s %-9s %s\n",
			truncate(t.Name, 24), t.Purpose, t.Notification, deadline, templateFlags(t))
	}
	return sb.String()
}

// RenderTemplate renders every field of a template.
func RenderTemplate(t templates.Template) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name:                          %s\n", t.Name)
	fmt.Fprintf(&sb, "Purpose:                       %s\n", t.Purpose)
	fmt.Fprintf(&sb, "Notification:                  %s\n", t.Notification)
	fmt.Fprintf(&sb, "Override service window:       %s\n", yesNo(t.OverrideServiceWindow))
	fmt.Fprintf(&sb, "Reboot outside service window: %s\n", yesNo(t.RebootOutsideServiceWindow))
	fmt.Fprintf(&sb, "Allow metered connection:      %s\n", yesNo(t.AllowMeteredConnection))
	fmt.Fprintf(&sb, "Default deadline offset:       %dh\n", t.DefaultDeadlineOffsetHours)
	if t.Path != "" {
		fmt.Fprintf(&sb, "File:                          %s\n", t.Path)
	}
	return sb.String()
}

func templateFlags(t templates.Template) string {
	var flags []string
	if t.OverrideServiceWindow {
		flags = append(flags, "override-sw")
	}
	if t.RebootOutsideServiceWindow {
		flags = append(flags, "reboot-outside-sw")
	}
	if t.AllowMeteredConnection {
		flags = append(flags, "metered")
	}
	if len(flags) == 0 {
		return "-"
	}
	return strings.Join(flags, ",")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04 MST")
}

// formatRelativeTime converts a timestamp to relative time (e.g., "2 days ago").
func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if time.Since(t) < time.Minute {
		return "just now"
	}
	return humanize.Time(t)
}

// truncate shortens s to maxLen runes, adding "..." if truncated.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	r := []rune(s)
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
