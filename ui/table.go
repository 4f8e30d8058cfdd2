// Package ui renders engine state on a terminal: tables of updates and jobs,
// progress bars for running tasks and confirmation prompts.
package ui

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/habedi/fcrollback/catalog"
	"github.com/habedi/fcrollback/config"
	"github.com/habedi/fcrollback/db"
	"github.com/habedi/fcrollback/probe"
	"github.com/habedi/fcrollback/status"
	"github.com/mitchellh/colorstring"
	"github.com/olekukonko/tablewriter"
)

var statusColors = map[status.Status]string{
	status.Installed:            "[green]",
	status.ReadyToInstall:       "[cyan]",
	status.AvailableForDownload: "[default]",
	status.ComingInConfirmed:    "[yellow]",
	status.NotAddedToList:       "[dark_gray]",
}

// Printer writes tables, optionally with ANSI colours.
type Printer struct {
	Out   io.Writer
	Color bool
}

func (p Printer) colorize(s string) string {
	c := colorstring.Colorize{Colors: colorstring.DefaultColors, Disable: !p.Color, Reset: true}
	return c.Color(s)
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAutoWrapText(false)
	table.SetRowLine(false)
	return table
}

// Updates prints one row per entry with the configured columns. statuses is
// parallel to entries; versionMode is VersionByNumber or VersionByDate.
func (p Printer) Updates(entries []catalog.Entry, statuses []status.Status, columns []string, versionMode string) {
	if len(columns) == 0 {
		columns = []string{"Name", "Released", "Size", "Status"}
	}
	table := newTable(p.Out, columns)
	for i, e := range entries {
		row := make([]string, len(columns))
		for c, col := range columns {
			row[c] = p.cell(e, statuses[i], col, versionMode)
		}
		table.Append(row)
	}
	table.Render()
}

func (p Printer) cell(e catalog.Entry, st status.Status, col, versionMode string) string {
	switch col {
	case "Name":
		return e.Name
	case "Released":
		return e.Released.String()
	case "Size":
		if e.Size <= 0 {
			return ""
		}
		return FormatBytes(e.Size)
	case "Version":
		if versionMode == config.VersionByDate {
			return e.ContentVersionDate.String()
		}
		if e.ContentVersion == 0 {
			return ""
		}
		return strconv.Itoa(e.ContentVersion)
	case "SemVer":
		return e.SemVer
	case "TU":
		return e.TUVersion
	case "BuildDate":
		return e.BuildDate.String()
	case "Status":
		return p.colorize(statusColors[st] + string(st))
	}
	return ""
}

// Games prints the detected installations.
func (p Printer) Games(games []probe.Installed, selected string) {
	table := newTable(p.Out, []string{"", "Title", "Folder", "Source"})
	for _, g := range games {
		mark := ""
		if strings.EqualFold(g.Dir, selected) {
			mark = p.colorize("[green]*")
		}
		source := "registry"
		if g.Manual {
			source = "added manually"
		}
		table.Append([]string{mark, g.Title.Name, g.Dir, source})
	}
	table.Render()
}

// History prints finished jobs, newest first.
func (p Printer) History(recs []db.JobRecord) {
	table := newTable(p.Out, []string{"Finished", "Job", "Title", "Update", "Kind", "State", "Detail"})
	for _, r := range recs {
		state := r.State
		switch state {
		case "Completed":
			state = p.colorize("[green]" + state)
		case "Failed":
			state = p.colorize("[red]" + state)
		case "Cancelled":
			state = p.colorize("[yellow]" + state)
		}
		table.Append([]string{
			r.FinishedAt.Local().Format("2006-01-02 15:04"),
			r.Type,
			r.TitleID,
			r.UpdateName,
			r.UpdateKind,
			state,
			strings.ReplaceAll(r.Detail, "\n", " "),
		})
	}
	table.Render()
}

// FormatBytes renders n with binary units.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
