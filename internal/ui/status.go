package ui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// StatusInfo describes an index for the stats command.
type StatusInfo struct {
	Backend      string    `json:"backend"`
	Path         string    `json:"path"`
	Items        int       `json:"items"`
	SizeBytes    int64     `json:"size_bytes"`
	LastModified time.Time `json:"last_modified"`
	Roots        []string  `json:"roots,omitempty"`
	Volume       string    `json:"volume,omitempty"`
	Locked       bool      `json:"locked"`
}

// StatusRenderer displays index status.
type StatusRenderer struct {
	out     io.Writer
	noColor bool
}

// NewStatusRenderer creates a status renderer.
func NewStatusRenderer(out io.Writer, noColor bool) *StatusRenderer {
	return &StatusRenderer{out: out, noColor: noColor}
}

// Render writes status info as a table.
func (r *StatusRenderer) Render(info StatusInfo) error {
	title := "Index: " + info.Path
	if !r.noColor {
		title = text.Bold.Sprint(title)
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Property", "Value"})
	tw.AppendRow(table.Row{"Backend", info.Backend})
	tw.AppendRow(table.Row{"Items", info.Items})
	tw.AppendRow(table.Row{"Size", FormatBytes(info.SizeBytes)})
	if !info.LastModified.IsZero() {
		tw.AppendRow(table.Row{"Last indexed", formatTime(info.LastModified)})
	}
	if len(info.Roots) > 0 {
		tw.AppendRow(table.Row{"Roots", strings.Join(info.Roots, "\n")})
	}
	if info.Volume != "" {
		tw.AppendRow(table.Row{"Volume", info.Volume})
	}
	writer := "idle"
	if info.Locked {
		writer = "indexing"
	}
	tw.AppendRow(table.Row{"Writer", writer})

	_, err := fmt.Fprintf(r.out, "%s\n%s\n", title, tw.Render())
	return err
}

// RenderJSON outputs status as JSON.
func (r *StatusRenderer) RenderJSON(info StatusInfo) error {
	encoder := json.NewEncoder(r.out)
	encoder.SetIndent("", "  ")
	return encoder.Encode(info)
}

// formatTime formats a time relative to now.
func formatTime(t time.Time) string {
	diff := time.Since(t)

	switch {
	case diff < time.Minute:
		return "just now"
	case diff < time.Hour:
		return plural(int(diff.Minutes()), "minute") + " ago"
	case diff < 24*time.Hour:
		return plural(int(diff.Hours()), "hour") + " ago"
	case diff < 7*24*time.Hour:
		return plural(int(diff.Hours()/24), "day") + " ago"
	default:
		return t.Format("2006-01-02 15:04")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return fmt.Sprintf("%d %ss", n, unit)
}

// FormatBytes formats bytes to human-readable format.
func FormatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = 1024 * KB
		GB = 1024 * MB
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
