// Package analyze renders a single local photo analysis in the terminal.
package analyze

import (
	"context"
	"fmt"
	"io"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"archcritic/pkg/vision"
)

type AnalyzeFunc func(ctx context.Context) (vision.Result, error)

// Info describes what is being analyzed for the header lines.
type Info struct {
	FileName string
	Bytes    int
	Provider string
	Model    string
}

// Run shows a spinner until analyzeFn returns, then the critique card.
func Run(ctx context.Context, analyzeFn AnalyzeFunc, info Info) (vision.Result, error) {
	m := newModel(ctx, analyzeFn, info)
	program := tea.NewProgram(m)
	if _, err := program.Run(); err != nil {
		return vision.Result{}, err
	}
	if m.isLoading {
		return vision.Result{}, context.Canceled
	}

	return m.result, m.err
}

// RunPlain analyzes without the terminal UI and prints the critique or the user-facing error.
func RunPlain(ctx context.Context, out io.Writer, analyzeFn AnalyzeFunc) (vision.Result, error) {
	result, err := analyzeFn(ctx)
	if err != nil {
		fmt.Fprintln(out, vision.UserMessage(err))
		return result, err
	}

	fmt.Fprintln(out, strings.TrimSpace(result.Text))
	return result, nil
}
