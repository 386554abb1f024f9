package main

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

var colour = term.IsTerminal(int(os.Stdout.Fd()))

func style(fg string) lipgloss.Style {
	if !colour {
		return lipgloss.NewStyle()
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func titleStyle() lipgloss.Style {
	if !colour {
		return lipgloss.NewStyle().Bold(true)
	}
	return lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4")).
		Padding(0, 1)
}

func labelStyle() lipgloss.Style  { return style("#87CEEB") }
func resultStyle() lipgloss.Style { return style("#90EE90") }
func errorStyle() lipgloss.Style  { return style("#FF6B6B") }
func helpStyle() lipgloss.Style   { return style("#666666") }

func selectedStyle() lipgloss.Style {
	if !colour {
		return lipgloss.NewStyle().Bold(true)
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FAFAFA")).
		Background(lipgloss.Color("#7D56F4"))
}
