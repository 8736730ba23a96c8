package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"junction-sim/server/internal/score"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22C55E"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	bandColors = map[score.Band]lipgloss.Color{
		score.BandRed:    lipgloss.Color("#EF4444"),
		score.BandOrange: lipgloss.Color("#F59E0B"),
		score.BandGreen:  lipgloss.Color("#10B981"),
	}
)

// renderOutcome 把汇总结果渲染为终端文本。
func renderOutcome(o score.Outcome) string {
	var sb strings.Builder

	band := score.Gauge(o.GlobalScore)
	scoreStyle := lipgloss.NewStyle().Bold(true).Foreground(bandColors[band])
	sb.WriteString(titleStyle.Render("Junction Simulator"))
	sb.WriteString("\n")
	sb.WriteString(fmt.Sprintf("Global score: %s / 100\n", scoreStyle.Render(fmt.Sprintf("%d", o.GlobalScore))))

	for _, row := range o.Characters {
		if !row.Engaged {
			sb.WriteString(dimStyle.Render(fmt.Sprintf("  %-10s not visited yet", row.CharacterName)))
			sb.WriteString("\n")
			continue
		}
		sb.WriteString(fmt.Sprintf("  %-10s %d/%d objectives  +%.1f\n", row.CharacterName, row.Completed, row.Total, row.Contribution))
	}

	if !o.EngagedAll {
		sb.WriteString(dimStyle.Render("Talk to every character to unlock the award ceremony."))
		return sb.String()
	}

	verdict := score.VerdictFor(o.Won)
	sb.WriteString("\n")
	if o.Won {
		sb.WriteString(successStyle.Render(verdict.Headline))
	} else {
		sb.WriteString(errorStyle.Render(verdict.Headline))
	}
	sb.WriteString("\n")
	for _, line := range o.Feedback {
		sb.WriteString("  " + line + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}
