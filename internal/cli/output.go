// Package cli renders command results and maps errors to exit codes.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"devstack/internal/color"
	"devstack/internal/orchestrator"
	"devstack/internal/reconciler"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"
)

// OutputFormat represents the output format for CLI commands
type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// ParseFormat validates a --format value.
func ParseFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(s)); f {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("%w: unsupported output format %q (use json, yaml or table)", ErrUsage, s)
	}
}

// Printer writes command output to stdout. Diagnostics go through
// pkg/logging to stderr and never through a Printer.
type Printer struct {
	w       io.Writer
	palette color.Palette
}

// NewPrinter returns a printer that colors output only when w is a terminal.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, palette: color.NewPalette(w)}
}

// Render writes v in format. Table rendering is provided by the typed
// Print methods; generic values fall back to JSON.
func (p *Printer) Render(format OutputFormat, v any) error {
	switch format {
	case OutputFormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode YAML: %w", err)
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	}
}

func (p *Printer) newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(p.w)
	if p.palette.Enabled() {
		t.SetStyle(table.StyleRounded)
	} else {
		t.SetStyle(table.StyleLight)
	}
	return t
}

// header builds an uncolored header row; the table style upper-cases it.
func header(cols ...string) table.Row {
	row := make(table.Row, len(cols))
	for i, c := range cols {
		row[i] = c
	}
	return row
}

// PrintInfo writes the info document.
func (p *Printer) PrintInfo(format OutputFormat, info map[string]orchestrator.ServiceInfo) error {
	if format != OutputFormatTable {
		return p.Render(format, info)
	}

	names := make([]string, 0, len(info))
	for name := range info {
		names = append(names, name)
	}
	sort.Strings(names)

	t := p.newTable()
	t.AppendHeader(header("SERVICE", "TYPE", "STATUS", "CONTAINER", "INTERNAL", "EXTERNAL", "URLS"))
	for _, name := range names {
		si := info[name]
		t.AppendRow(table.Row{
			name,
			si.Type + ":" + si.Version,
			p.palette.State(si.Status),
			si.Container,
			connection(&si.InternalConnection),
			p.orMuted(connection(si.ExternalConnection)),
			p.orMuted(strings.Join(si.URLs, "\n")),
		})
	}
	t.Render()
	return nil
}

// PrintList writes the app list.
func (p *Printer) PrintList(format OutputFormat, apps []orchestrator.AppSummary) error {
	if format != OutputFormatTable {
		return p.Render(format, apps)
	}
	if len(apps) == 0 {
		_, err := fmt.Fprintln(p.w, p.palette.Muted("No apps found"))
		return err
	}

	t := p.newTable()
	t.AppendHeader(header("NAME", "LOCATION", "SERVICES"))
	for _, app := range apps {
		t.AppendRow(table.Row{app.Name, app.Location, strings.Join(app.Services, ", ")})
	}
	t.Render()
	return nil
}

// PrintResult writes the per-service outcome of a lifecycle operation.
func (p *Printer) PrintResult(res reconciler.Result) error {
	names := make([]string, 0, len(res.States))
	names = append(names, res.Succeeded...)
	names = append(names, res.FailedServices()...)

	t := p.newTable()
	t.AppendHeader(header("SERVICE", "STATE", "DETAIL"))
	for _, name := range names {
		detail := ""
		if err := res.Failed[name]; err != nil {
			detail = err.Error()
		}
		t.AppendRow(table.Row{name, p.palette.State(string(res.States[name])), detail})
	}
	t.Render()

	summary := fmt.Sprintf("%s %s: %d succeeded, %d failed, %d backend actions",
		res.Op, res.App, len(res.Succeeded), len(res.Failed), res.Mutations)
	if res.OK() {
		summary = p.palette.Success(summary)
	} else {
		summary = p.palette.Error(summary)
	}
	_, err := fmt.Fprintln(p.w, summary)
	return err
}

// PrintPoweroff writes the outcome of poweroff for every app.
func (p *Printer) PrintPoweroff(results []orchestrator.AppResult) error {
	if len(results) == 0 {
		_, err := fmt.Fprintln(p.w, p.palette.Muted("Nothing to power off"))
		return err
	}
	for _, r := range results {
		if err := p.PrintResult(r.Result); err != nil {
			return err
		}
	}
	return nil
}

// Println writes a line of plain output.
func (p *Printer) Println(s string) error {
	_, err := fmt.Fprintln(p.w, s)
	return err
}

// PrintURL writes a shared URL, highlighted on a terminal.
func (p *Printer) PrintURL(url string) error {
	return p.Println(p.palette.Accent(url))
}

func (p *Printer) orMuted(s string) string {
	if s == "" {
		return p.palette.Muted("-")
	}
	return s
}

func connection(c *orchestrator.Connection) string {
	if c == nil {
		return ""
	}
	if c.Port == 0 {
		return c.Host
	}
	return c.Host + ":" + strconv.Itoa(c.Port)
}
