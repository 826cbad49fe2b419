package main

import (
	"fmt"
	"time"

	"aula"

	"github.com/charmbracelet/lipgloss"
)

// Palette — muted, dark-terminal friendly.
var (
	green  = lipgloss.Color("76")
	red    = lipgloss.Color("204")
	yellow = lipgloss.Color("214")
	dim    = lipgloss.Color("243")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(green)
	errorStyle   = lipgloss.NewStyle().Foreground(red)
	warnStyle    = lipgloss.NewStyle().Foreground(yellow)
	labelStyle   = lipgloss.NewStyle().Foreground(dim)
)

func printRes(programa string, res aula.Res, outcome int, elapsed time.Duration) {
	switch outcome {
	case outcomeAccepted:
		fmt.Println(successStyle.Render("✓") + " reserva confirmada para " + programa)
	case outcomeDenied:
		fmt.Println(errorStyle.Render("✗") + " solicitud negada: " + res.Reason)
	case outcomeCanceled:
		fmt.Println(warnStyle.Render("!") + " reserva cancelada: " + res.Reason)
	default:
		fmt.Println(errorStyle.Render("✗") + " sin resolución: " + res.Status)
	}

	line := func(label, value string) {
		fmt.Printf("  %s %s\n", labelStyle.Render(label+":"), value)
	}
	if res.TransactionID != "" {
		line("transacción", res.TransactionID)
	}
	if res.Salones != nil {
		line("salones", fmt.Sprint(*res.Salones))
	}
	if res.Laboratorios != nil {
		line("laboratorios", fmt.Sprint(*res.Laboratorios))
	}
	if res.AulasMoviles != nil {
		line("aulas móviles", fmt.Sprint(*res.AulasMoviles))
	}
	if res.Reason != "" && outcome == outcomeAccepted {
		line("nota", res.Reason)
	}
	line("tiempo", elapsed.Round(time.Millisecond).String())
}
