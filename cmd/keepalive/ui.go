package main

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"keepalive/config"
	"keepalive/internal/control"
)

var (
	purple = lipgloss.Color("99")
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
	faint  = lipgloss.Color("238")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	labelStyle   = lipgloss.NewStyle().Foreground(dim)
)

func successMsg(format string, a ...any) string {
	return successStyle.Render("✓") + " " + fmt.Sprintf(format, a...)
}

func warnMsg(format string, a ...any) string {
	return warnStyle.Render("!") + " " + fmt.Sprintf(format, a...)
}

type pair struct {
	key   string
	value string
}

// keyValues renders aligned "key:  value" lines with a trailing newline.
func keyValues(indent string, pairs ...pair) string {
	maxLen := 0
	for _, p := range pairs {
		maxLen = max(maxLen, len(p.key))
	}
	var sb strings.Builder
	for _, p := range pairs {
		label := fmt.Sprintf("%-*s", maxLen+1, p.key+":")
		sb.WriteString(indent + labelStyle.Render(label) + " " + p.value + "\n")
	}
	return sb.String()
}

func renderTable(headers []string, rows [][]string) string {
	headerStyle := lipgloss.NewStyle().Foreground(purple).Bold(true).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)
	oddStyle := cellStyle.Foreground(dim)

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(faint)).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return headerStyle
			case row%2 == 0:
				return cellStyle
			default:
				return oddStyle
			}
		}).
		Headers(headers...).
		Rows(rows...).
		String()
}

func phaseLabel(phase string) string {
	switch phase {
	case "running":
		return successStyle.Render(phase)
	case "uninitialized":
		return warnStyle.Render("stopped")
	default:
		return warnStyle.Render(phase)
	}
}

func stateLabel(state string) string {
	if state == "failed" {
		return errorStyle.Render(state)
	}
	return successStyle.Render(state)
}

// renderStatus formats a control-socket status report.
func renderStatus(st control.Status) string {
	var sb strings.Builder
	sb.WriteString(keyValues("  ",
		pair{"Phase", phaseLabel(st.Phase)},
		pair{"Checks", strconv.FormatUint(st.Checks, 10)},
		pair{"Strategies", strconv.Itoa(len(st.Strategies))},
	))
	if len(st.Strategies) == 0 {
		return sb.String()
	}

	rows := make([][]string, 0, len(st.Strategies))
	for _, s := range st.Strategies {
		detail := s.Error
		if detail == "" {
			detail = formatDetails(s.Details)
		}
		rows = append(rows, []string{s.Kind, stateLabel(s.State), detail})
	}
	sb.WriteString(renderTable([]string{"STRATEGY", "STATE", "DETAILS"}, rows))
	sb.WriteString("\n")
	return sb.String()
}

func formatDetails(d map[string]string) string {
	keys := slices.Sorted(maps.Keys(d))
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+"="+d[k])
	}
	return strings.Join(parts, " ")
}

func renderConfig(fields []config.Field) string {
	pairs := make([]pair, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, pair{f.Key, f.Value})
	}
	return keyValues("  ", pairs...)
}
