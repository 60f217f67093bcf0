package controller

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	m "coevo.dev/pkg/coevo/internal/model"
)

const recentResultsShown = 8

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("170"))
	phaseStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	faintStyle  = lipgloss.NewStyle().Faint(true)
	scoreStyle  = lipgloss.NewStyle().Bold(true)
	helpStyle   = lipgloss.NewStyle().Faint(true).Italic(true)
	borderStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
)

// TUI implements UI using Bubble Tea for interactive live display.
type TUI struct {
	output io.Writer

	mu      sync.Mutex
	program *tea.Program
	done    chan struct{}
}

// NewTUI creates a new TUI.
func NewTUI(output io.Writer) *TUI {
	return &TUI{output: output}
}

// Start launches the interactive program in the background.
func (t *TUI) Start(ctx context.Context, options ...StartOption) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	config := StartConfig{}
	for _, option := range options {
		option(&config)
	}

	model := newRunModel(config.mode)
	program := tea.NewProgram(model, tea.WithOutput(t.output))

	t.mu.Lock()
	t.program = program
	t.done = make(chan struct{})
	t.mu.Unlock()

	go func() {
		defer close(t.done)

		if _, err := program.Run(); err != nil {
			fmt.Fprintf(t.output, "ui error: %v\n", err)
		}
	}()

	return nil
}

// Close stops the program.
func (t *TUI) Close(_ context.Context) {
	t.mu.Lock()
	program := t.program
	t.mu.Unlock()

	if program != nil {
		program.Quit()
	}
}

// Wait blocks until the program exits (user quits or Close is called).
func (t *TUI) Wait(ctx context.Context) {
	t.mu.Lock()
	done := t.done
	t.mu.Unlock()

	if done == nil {
		return
	}

	select {
	case <-ctx.Done():
	case <-done:
	}
}

func (t *TUI) send(msg tea.Msg) {
	t.mu.Lock()
	program := t.program
	t.mu.Unlock()

	if program != nil {
		program.Send(msg)
	}
}

// DisplayRunInfo implements UI.
func (t *TUI) DisplayRunInfo(_ context.Context, runID string, parallelism int, batchSize int, strategy string) {
	t.send(runInfoMsg{runID: runID, parallelism: parallelism, batchSize: batchSize, strategy: strategy})
}

// DisplayBatchStarted implements UI.
func (t *TUI) DisplayBatchStarted(_ context.Context, iteration int, targets []m.Target) {
	keys := make([]string, 0, len(targets))
	for _, target := range targets {
		keys = append(keys, target.Key())
	}

	t.send(batchStartedMsg{iteration: iteration, targets: keys})
}

// DisplayPhase implements UI.
func (t *TUI) DisplayPhase(_ context.Context, iteration int, phase string) {
	t.send(phaseMsg{iteration: iteration, phase: phase})
}

// DisplayTargetResult implements UI.
func (t *TUI) DisplayTargetResult(_ context.Context, result m.WorkerResult) {
	t.send(targetResultMsg{result: result})
}

// DisplayBatchSummary implements UI.
func (t *TUI) DisplayBatchSummary(_ context.Context, state m.RunState) {
	t.send(stateMsg{state: state})
}

// DisplayRunSummary implements UI.
func (t *TUI) DisplayRunSummary(_ context.Context, state m.RunState, reason string) {
	t.send(summaryMsg{state: state, reason: reason})
}

type runInfoMsg struct {
	runID       string
	parallelism int
	batchSize   int
	strategy    string
}

type batchStartedMsg struct {
	iteration int
	targets   []string
}

type phaseMsg struct {
	iteration int
	phase     string
}

type targetResultMsg struct {
	result m.WorkerResult
}

type stateMsg struct {
	state m.RunState
}

type summaryMsg struct {
	state  m.RunState
	reason string
}

// runModel is the Bubble Tea model for a live run.
type runModel struct {
	mode StartMode

	spinner spinner.Model

	runID       string
	parallelism int
	batchSize   int
	strategy    string

	iteration int
	phase     string
	targets   []string
	recent    []string

	state      m.RunState
	finished   bool
	stopReason string
	quitting   bool
}

func newRunModel(mode StartMode) runModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = phaseStyle

	return runModel{mode: mode, spinner: sp, phase: "starting"}
}

func (rm runModel) Init() tea.Cmd {
	return rm.spinner.Tick
}

func (rm runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			rm.quitting = true
			return rm, tea.Quit
		}

		return rm, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		rm.spinner, cmd = rm.spinner.Update(msg)

		return rm, cmd

	case runInfoMsg:
		rm.runID = msg.runID
		rm.parallelism = msg.parallelism
		rm.batchSize = msg.batchSize
		rm.strategy = msg.strategy

		return rm, nil

	case batchStartedMsg:
		rm.iteration = msg.iteration
		rm.targets = msg.targets
		rm.phase = "select"

		return rm, nil

	case phaseMsg:
		rm.iteration = msg.iteration
		rm.phase = msg.phase

		return rm, nil

	case targetResultMsg:
		rm.recent = append(rm.recent, renderResultLine(msg.result))
		if len(rm.recent) > recentResultsShown {
			rm.recent = rm.recent[len(rm.recent)-recentResultsShown:]
		}

		return rm, nil

	case stateMsg:
		rm.state = msg.state
		return rm, nil

	case summaryMsg:
		rm.state = msg.state
		rm.stopReason = msg.reason
		rm.finished = true

		return rm, nil
	}

	return rm, nil
}

func renderResultLine(result m.WorkerResult) string {
	if result.Success {
		return okStyle.Render("✓") + fmt.Sprintf(" %s: +%d test(s), %d mutant(s)",
			result.Target.Key(), result.TestsRetained, len(result.Mutants))
	}

	return failStyle.Render("✗") + fmt.Sprintf(" %s: %s", result.Target.Key(), result.Reason)
}

func (rm runModel) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("coevo") + "  " + faintStyle.Render(rm.runID) + "\n\n")

	if rm.runID != "" {
		fmt.Fprintf(&b, "  %d worker(s) | batch %d | strategy %s\n\n", rm.parallelism, rm.batchSize, rm.strategy)
	}

	if rm.finished {
		b.WriteString("  " + scoreStyle.Render("run stopped: "+rm.stopReason) + "\n")
	} else {
		fmt.Fprintf(&b, "  %s batch %d: %s\n", rm.spinner.View(), rm.iteration, phaseStyle.Render(rm.phase))
	}

	if len(rm.targets) > 0 && !rm.finished {
		b.WriteString(faintStyle.Render("  targets: "+strings.Join(rm.targets, ", ")) + "\n")
	}

	if len(rm.recent) > 0 {
		b.WriteString("\n")

		for _, line := range rm.recent {
			b.WriteString("  " + line + "\n")
		}
	}

	b.WriteString("\n" + borderStyle.Render(rm.renderScores()) + "\n")

	if rm.finished {
		b.WriteString(helpStyle.Render("  press q to exit") + "\n")
	}

	return b.String()
}

func (rm runModel) renderScores() string {
	return fmt.Sprintf("score %s  line %s  branch %s  mutants %d/%d  conflicts %d",
		scoreStyle.Render(fmt.Sprintf("%.1f%%", rm.state.MutationScore*100)),
		fmt.Sprintf("%.1f%%", rm.state.LineCoverage*100),
		fmt.Sprintf("%.1f%%", rm.state.BranchCoverage*100),
		rm.state.KilledMutants, rm.state.TotalMutants,
		rm.state.MergeConflicts)
}
