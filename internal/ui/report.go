package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sonodavide/androsync/internal/category"
	"github.com/sonodavide/androsync/internal/devicelink"
	"github.com/sonodavide/androsync/internal/engine"
	"github.com/sonodavide/androsync/internal/journal"
	"github.com/sonodavide/androsync/internal/manifest"
)

// Format selects how reports are rendered.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --report value.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q (use text, json or yaml)", s)
	}
}

// Session statuses.
const (
	StatusOK        = "ok"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
	StatusDryRun    = "dry-run"
)

// FailureLine is one failed path in a report.
type FailureLine struct {
	Path  string `json:"path" yaml:"path"`
	Error string `json:"error" yaml:"error"`
}

// Report is the rendered outcome of a backup session.
type Report struct {
	SessionID   string             `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Dest        string             `json:"dest" yaml:"dest"`
	Status      string             `json:"status" yaml:"status"`
	Error       string             `json:"error,omitempty" yaml:"error,omitempty"`
	Plan        engine.PlanSummary `json:"plan" yaml:"plan"`
	Copied      int                `json:"copied" yaml:"copied"`
	Updated     int                `json:"updated" yaml:"updated"`
	Refreshed   int                `json:"refreshed" yaml:"refreshed"`
	Skipped     int                `json:"skipped" yaml:"skipped"`
	Bytes       int64              `json:"bytes" yaml:"bytes"`
	Duration    string             `json:"duration" yaml:"duration"`
	Failed      []FailureLine      `json:"failed,omitempty" yaml:"failed,omitempty"`
	Orphans     []string           `json:"orphans,omitempty" yaml:"orphans,omitempty"`
	Pruned      []string           `json:"pruned,omitempty" yaml:"pruned,omitempty"`
	Warnings    []string           `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Unreachable []string           `json:"unreachable,omitempty" yaml:"unreachable,omitempty"`
	Manifest    manifest.Stats     `json:"manifest" yaml:"manifest"`
}

// NewReport summarizes res.
func NewReport(dest string, res engine.Result) Report {
	r := Report{
		SessionID: res.SessionID,
		Dest:      dest,
		Status:    Status(res),
		Plan:      engine.Summarize(res.Plan),
		Copied:    res.Session.Copied,
		Updated:   res.Session.Updated,
		Refreshed: res.Session.Refreshed,
		Skipped:   res.Session.Skipped,
		Bytes:     res.Session.BytesTransferred,
		Duration:  res.Stats.Elapsed.Round(time.Millisecond).String(),
		Orphans:   res.Session.Orphans,
		Pruned:    res.Pruned,
		Manifest:  res.Manifest,
	}
	if err := res.Failed(); err != nil {
		r.Error = err.Error()
	}
	for _, f := range res.Session.Failed {
		r.Failed = append(r.Failed, FailureLine{Path: f.RemotePath, Error: f.Err.Error()})
	}
	for _, w := range res.Session.Warnings {
		r.Warnings = append(r.Warnings, w.Error())
	}
	if res.Listing != nil {
		r.Unreachable = res.Listing.Unreachable
	}
	return r
}

// Status classifies a session outcome.
func Status(res engine.Result) string {
	switch {
	case res.Failed() != nil:
		return StatusFailed
	case res.Session.Cancelled:
		return StatusCancelled
	case res.DryRun:
		return StatusDryRun
	case len(res.Session.Failed) > 0:
		return StatusPartial
	default:
		return StatusOK
	}
}

// WriteReport renders r to w.
func WriteReport(w io.Writer, r Report, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, r)
	case FormatYAML:
		return writeYAML(w, r)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "status\t%s\n", r.Status)
	if r.Error != "" {
		fmt.Fprintf(tw, "error\t%s\n", r.Error)
	}
	fmt.Fprintf(tw, "plan\tcopy %d, update %d, skip %d, orphan %d (%s)\n",
		r.Plan.Copy, r.Plan.Update, r.Plan.Skip, r.Plan.Orphan, FormatBytes(int64(r.Plan.Bytes)))
	if r.Status != StatusDryRun {
		fmt.Fprintf(tw, "transferred\t%d copied, %d updated, %d unchanged, %s\n",
			r.Copied, r.Updated, r.Refreshed, FormatBytes(r.Bytes))
		fmt.Fprintf(tw, "failed\t%d\n", len(r.Failed))
	}
	fmt.Fprintf(tw, "manifest\t%s files, %s\n", FormatCount(int64(r.Manifest.Files)), FormatBytes(int64(r.Manifest.Bytes)))
	if err := tw.Flush(); err != nil {
		return err
	}

	section(w, "failed", len(r.Failed), func(i int) string { return r.Failed[i].Path + ": " + r.Failed[i].Error })
	section(w, "not listed (orphans kept)", len(r.Unreachable), func(i int) string { return r.Unreachable[i] })
	section(w, "orphans", len(r.Orphans), func(i int) string { return r.Orphans[i] })
	section(w, "pruned", len(r.Pruned), func(i int) string { return r.Pruned[i] })
	return nil
}

// WritePlan renders plan items. Skip items are listed only when all is set.
func WritePlan(w io.Writer, plan []engine.PlanItem, f Format, all bool) error {
	items := plan
	if !all {
		items = make([]engine.PlanItem, 0, len(plan))
		for _, item := range plan {
			if item.Action != engine.Skip {
				items = append(items, item)
			}
		}
	}
	switch f {
	case FormatJSON:
		return writeJSON(w, items)
	case FormatYAML:
		return writeYAML(w, items)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, item := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			item.Action, item.RemotePath, item.LocalPath, FormatBytes(int64(item.ExpectedSize)), item.Reason)
	}
	return tw.Flush()
}

// StatusReport describes a destination at rest.
type StatusReport struct {
	Dest     string               `json:"dest" yaml:"dest"`
	Manifest manifest.Stats       `json:"manifest" yaml:"manifest"`
	Failures []journal.Failure    `json:"failures,omitempty" yaml:"failures,omitempty"`
	Verify   *engine.VerifyResult `json:"verify,omitempty" yaml:"verify,omitempty"`
}

// WriteStatus renders s to w.
func WriteStatus(w io.Writer, s StatusReport, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, s)
	case FormatYAML:
		return writeYAML(w, s)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "destination\t%s\n", s.Dest)
	if s.Manifest.Device != "" {
		fmt.Fprintf(tw, "device\t%s\n", s.Manifest.Device)
	}
	fmt.Fprintf(tw, "files\t%s (%s)\n", FormatCount(int64(s.Manifest.Files)), FormatBytes(int64(s.Manifest.Bytes)))
	cats := make([]category.Category, 0, len(s.Manifest.ByCategory))
	for cat := range s.Manifest.ByCategory {
		cats = append(cats, cat)
	}
	slices.Sort(cats)
	for _, cat := range cats {
		fmt.Fprintf(tw, "  %s\t%s\n", cat, FormatCount(int64(s.Manifest.ByCategory[cat])))
	}
	if !s.Manifest.CreatedAt.IsZero() {
		fmt.Fprintf(tw, "created\t%s\n", s.Manifest.CreatedAt.Format(time.RFC3339))
	}
	if s.Manifest.LastSync.IsZero() {
		fmt.Fprintf(tw, "last sync\tnever\n")
	} else {
		fmt.Fprintf(tw, "last sync\t%s\n", s.Manifest.LastSync.Format(time.RFC3339))
	}
	if s.Verify != nil {
		fmt.Fprintf(tw, "verified\t%d ok, %d bad\n", s.Verify.Verified, s.Verify.Failed)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	section(w, "failing", len(s.Failures), func(i int) string {
		f := s.Failures[i]
		return fmt.Sprintf("%s (%s, %d attempts): %s", f.RemotePath, f.Kind, f.Attempts, f.Message)
	})
	if s.Verify != nil {
		section(w, "verify errors", len(s.Verify.Errors), func(i int) string {
			e := s.Verify.Errors[i]
			return fmt.Sprintf("%s -> %s: %s", e.RemotePath, e.LocalPath, e.Problem)
		})
	}
	return nil
}

// WriteDevices renders the devices adb reports.
func WriteDevices(w io.Writer, devices []devicelink.Device, f Format) error {
	switch f {
	case FormatJSON:
		return writeJSON(w, devices)
	case FormatYAML:
		return writeYAML(w, devices)
	}
	if len(devices) == 0 {
		_, err := fmt.Fprintln(w, "no devices attached")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "SERIAL\tSTATE\tMODEL")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.Serial, d.State, d.Model)
	}
	return tw.Flush()
}

func section(w io.Writer, title string, n int, line func(int) string) {
	if n == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s:\n", title)
	for i := range n {
		fmt.Fprintf(w, "  %s\n", line(i))
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}
