package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sharif2023/StudyNest-sub001/internal/room"
	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

// RoomRow is one line of the room directory.
type RoomRow struct {
	ID        string
	Names     []string
	Occupancy int
	CreatedAt time.Time
}

// RoomsView renders the room directory.
func RoomsView(rows []RoomRow, now time.Time) string {
	if len(rows) == 0 {
		return MutedStyle.Render("No active rooms")
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.AppendHeader(table.Row{"Room", "Occupancy", "Participants", "Open for"})
	t.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight},
		{Number: 3, WidthMax: 40},
	})

	total := 0
	for _, r := range rows {
		total += r.Occupancy
		t.AppendRow(table.Row{
			r.ID,
			r.Occupancy,
			strings.Join(r.Names, ", "),
			formatAge(now.Sub(r.CreatedAt)),
		})
	}
	t.AppendFooter(table.Row{fmt.Sprintf("%d rooms", len(rows)), total, "", ""})
	return t.Render()
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

// ParticipantsView renders the live participant panel of the room view.
func ParticipantsView(ps []room.Participant) string {
	if len(ps) == 0 {
		return MutedStyle.Render("Waiting for others to join…")
	}

	rows := make([][]string, 0, len(ps))
	for _, p := range ps {
		hand := ""
		if p.HandRaised {
			hand = IconHand
		}
		rows = append(rows, []string{p.Name, p.ID.Short(), p.ICEState.String(), hand, mediaIcons(p)})
	}

	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(Primary)).
		Headers("Name", "ID", "Connection", "Hand", "Media").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == lgtable.HeaderRow:
				return TableHeaderStyle
			case row%2 == 0:
				return TableRowStyle
			default:
				return TableRowAltStyle
			}
		}).
		Render()
}

func mediaIcons(p room.Participant) string {
	var icons []string
	if p.Audio {
		icons = append(icons, IconMic)
	}
	if p.Camera {
		icons = append(icons, IconCamera)
	}
	if p.Screen {
		icons = append(icons, IconScreen)
	}
	return strings.Join(icons, " ")
}
