package main

import "github.com/charmbracelet/lipgloss"

var (
	keyword = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#04B575")).
		Render

	paragraph = lipgloss.NewStyle().
			Width(78).
			Padding(0, 0, 0, 2).
			Render

	label = lipgloss.NewStyle().
		Bold(true).
		Width(10).
		Render

	staleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FF5F87")).
			Render
)
