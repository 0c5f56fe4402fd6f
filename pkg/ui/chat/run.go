// Package chat renders the local console for talking to the agent backend
// without a chat platform in between.
package chat

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	providertypes "clawbridge/pkg/provider/types"
)

// PromptFunc sends one prompt through the configured backend.
type PromptFunc func(ctx context.Context, prompt string) (providertypes.PromptResult, error)

// RuntimeInfo labels the header with the active backend identity.
type RuntimeInfo struct {
	Provider string
	Model    string
}

func RunInteractive(ctx context.Context, promptFn PromptFunc, info RuntimeInfo) error {
	model := newModel(ctx, promptFn, modeInteractive, "", info)
	program := tea.NewProgram(model, tea.WithMouseCellMotion())
	if _, err := program.Run(); err != nil {
		return err
	}

	fmt.Print("\033[H\033[2J")
	fmt.Println(renderGoodbyeBanner())
	return nil
}

func RunOneShot(ctx context.Context, promptFn PromptFunc, prompt string, info RuntimeInfo) error {
	model := newModel(ctx, promptFn, modeOneShot, prompt, info)
	program := tea.NewProgram(model)
	_, err := program.Run()
	return err
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("88")).
		Padding(1, 2)

	return style.Render("🦞 Thanks for using Clawbridge")
}
