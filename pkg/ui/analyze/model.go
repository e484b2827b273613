package analyze

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"archcritic/pkg/vision"
)

type analysisDoneMsg struct {
	result vision.Result
	err    error
}

type model struct {
	ctx       context.Context
	analyzeFn AnalyzeFunc
	info      Info

	theme     theme
	spinner   spinner.Model
	width     int
	isLoading bool
	startedAt time.Time
	elapsed   time.Duration
	result    vision.Result
	err       error
}

func newModel(ctx context.Context, analyzeFn AnalyzeFunc, info Info) *model {
	spin := spinner.New()
	spin.Spinner = spinner.Points
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	return &model{
		ctx:       ctx,
		analyzeFn: analyzeFn,
		info:      info,
		theme:     defaultTheme(),
		spinner:   spin,
		width:     100,
	}
}

func (m *model) Init() tea.Cmd {
	m.isLoading = true
	m.startedAt = time.Now()
	return tea.Batch(m.spinner.Tick, analyzeCmd(m.ctx, m.analyzeFn))
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch typed := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = typed.Width
		return m, nil
	case tea.KeyMsg:
		switch typed.String() {
		case "ctrl+c", "esc", "q":
			return m, tea.Quit
		}
		return m, nil
	case spinner.TickMsg:
		if !m.isLoading {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(typed)
		return m, cmd
	case analysisDoneMsg:
		m.isLoading = false
		m.elapsed = time.Since(m.startedAt)
		m.result = typed.result
		m.err = typed.err
		return m, tea.Quit
	}

	return m, nil
}

func (m *model) View() string {
	contentWidth := max(40, m.width-6)

	header := m.theme.header.Render("🏛 Архитектурный критик")
	meta := m.theme.headerMeta.Render(fmt.Sprintf(
		"provider:%s · model:%s",
		displayOrNA(m.info.Provider),
		displayOrNA(m.info.Model),
	))
	line := m.theme.divider.Render(strings.Repeat("─", contentWidth))

	parts := []string{header, meta, line, m.renderCard(
		m.theme.photoTitle.Render("[ PHOTO ]"),
		m.theme.photoBox.Width(contentWidth).Render(fmt.Sprintf("%s · %s", displayOrNA(m.info.FileName), formatBytes(m.info.Bytes))),
	)}

	if m.isLoading {
		parts = append(parts, m.theme.statusBusy.Render(fmt.Sprintf("%s analyzing facade...", m.spinner.View())))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n"
	}

	if m.err != nil {
		parts = append(parts, m.renderCard(
			m.theme.errorTitle.Render("[ ERROR ]"),
			m.theme.errorBox.Width(contentWidth).Render(vision.UserMessage(m.err)+"\n\n"+m.theme.hint.Render(m.err.Error())),
		))
		return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
	}

	body := strings.TrimSpace(m.result.Text)
	if footer := resultFooter(m.result, m.elapsed); footer != "" {
		body += "\n\n" + m.theme.hint.Render(footer)
	}
	parts = append(parts, m.renderCard(
		m.theme.resultTitle.Render("[ CRITIQUE ]"),
		m.theme.resultBox.Width(contentWidth).Render(body),
	))

	return lipgloss.JoinVertical(lipgloss.Left, parts...) + "\n\n"
}

func (m *model) renderCard(title string, body string) string {
	return lipgloss.JoinVertical(lipgloss.Left, title, body)
}

func analyzeCmd(ctx context.Context, analyzeFn AnalyzeFunc) tea.Cmd {
	return func() tea.Msg {
		result, err := analyzeFn(ctx)
		return analysisDoneMsg{result: result, err: err}
	}
}

func resultFooter(result vision.Result, elapsed time.Duration) string {
	fields := make([]string, 0, 4)
	switch {
	case result.Cached:
		fields = append(fields, "cache hit")
	case result.Rung > 0:
		fields = append(fields, fmt.Sprintf("rung %d · attempts %d", result.Rung, result.Attempts))
	}
	if result.Usage != nil {
		fields = append(fields, fmt.Sprintf("tokens in/out/total: %d/%d/%d", result.Usage.InputTokens, result.Usage.OutputTokens, result.Usage.TotalTokens))
	}
	if elapsed > 0 {
		fields = append(fields, elapsed.Round(100*time.Millisecond).String())
	}

	return strings.Join(fields, " · ")
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

func displayOrNA(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "n/a"
	}

	return trimmed
}
