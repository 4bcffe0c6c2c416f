// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive research chat for the deepresearch CLI.
//
// Command: chat
// Short:   Start an interactive research chat
//
// Examples:
//   deepresearch chat                   Start a chat with the configured model
//   deepresearch chat --model sonnet    Use a model alias
//   deepresearch chat --no-tools        Chat without web search
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /clear, /c          Clear conversation history
//   /pdf [FILE]         Export the last answer as PDF
//   /usage              Show search quota counters
//   /exit, /quit, /q    Exit chat
//   Ctrl+C              Cancel the current research run
//   Ctrl+D              Exit chat
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/jeranaias/deepresearch/internal/config"
	"github.com/jeranaias/deepresearch/internal/export"
	"github.com/jeranaias/deepresearch/internal/react"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#0891B2", Dark: "#22D3EE"}).
			Bold(true)

	welcomeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.AdaptiveColor{Light: "#7C3AED", Dark: "#A78BFA"}).
			Bold(true)
)

// =============================================================================
// INPUT HISTORY
// =============================================================================

// chatHistoryFile is the liner history file inside the config directory.
const chatHistoryFile = "chat_history"

// ChatCLI wraps liner for line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a line editor and loads previous input history.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetMultiLineMode(true)
	line.SetCompleter(completeSlashCommand)

	c := &ChatCLI{line: line}
	if dir, err := config.ConfigDir(); err == nil {
		c.historyFile = filepath.Join(dir, chatHistoryFile)
	}
	c.LoadHistory()
	return c
}

// LoadHistory reads previous input lines, if any.
func (c *ChatCLI) LoadHistory() {
	if c.historyFile == "" {
		return
	}
	f, err := os.Open(c.historyFile)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.ReadHistory(f)
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists input history with owner-only permissions.
func (c *ChatCLI) SaveHistory() {
	if c.historyFile == "" {
		return
	}
	if err := config.EnsureConfigDir(); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

var slashCommands = []string{"/help", "/clear", "/pdf", "/usage", "/exit"}

func completeSlashCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, cmd := range slashCommands {
		if strings.HasPrefix(cmd, line) {
			out = append(out, cmd)
		}
	}
	return out
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession holds the state of one chat. History lives in memory only.
type ChatSession struct {
	App     *App
	History react.Conversation

	// LastAnswer is the most recent completed answer, for /pdf
	LastAnswer string

	Turns     int
	Searches  int
	StartTime time.Time
	Quiet     bool

	out io.Writer
	mu  sync.Mutex
	// cancel stops the run in flight
	cancel context.CancelFunc
}

// NewChatSession creates a session around app.
func NewChatSession(app *App, args Args) *ChatSession {
	return &ChatSession{
		App:       app,
		StartTime: time.Now(),
		Quiet:     args.Quiet,
		out:       stdout,
	}
}

// Cancel stops the current run. It reports whether one was in flight.
func (s *ChatSession) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

func (s *ChatSession) setCancel(cancel context.CancelFunc) {
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChat handles the "chat" command.
func HandleChat(ctx context.Context, args Args) error {
	if err := RequiresTTY("chat"); err != nil {
		return err
	}
	cfg, err := LoadConfig(args)
	if err != nil {
		return err
	}
	app, err := NewApp(ctx, cfg, args)
	if err != nil {
		return err
	}
	defer app.Close()

	session := NewChatSession(app, args)
	if !session.Quiet {
		printWelcome(session)
	}

	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C while a run streams cancels it; at the prompt liner reports it.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if session.Cancel() {
				fmt.Fprintln(stderr, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	for {
		line, err := input.ReadInput(promptStyle.Render("research> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed terminal
			fmt.Fprintln(stdout)
			printExitSummary(session)
			return nil
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.EqualFold(line, "exit") || strings.EqualFold(line, "quit") {
			printExitSummary(session)
			return nil
		}

		if strings.HasPrefix(line, "/") {
			cont, err := handleSlashCommand(ctx, session, line)
			if err != nil {
				fmt.Fprintf(stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
			}
			if !cont {
				printExitSummary(session)
				return nil
			}
			continue
		}

		if err := processTurn(ctx, session, line); err != nil {
			fmt.Fprintf(stderr, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// =============================================================================
// TURN PROCESSING
// =============================================================================

// processTurn runs one research turn with the session history and streams
// the answer. The turn joins the history only when the model answered.
func processTurn(ctx context.Context, s *ChatSession, input string) error {
	conv := append(s.History.Clone(), react.Message{Role: react.RoleUser, Content: input})

	runCtx, cancel := context.WithCancel(ctx)
	s.setCancel(cancel)
	defer s.Cancel()

	var transcript react.Conversation
	var answer strings.Builder
	failed := ""
	for fragment := range s.App.Controller.Run(runCtx, conv, s.App.Tools, react.WithTranscript(func(c react.Conversation) {
		transcript = c
	})) {
		answer.WriteString(fragment)
		if strings.HasPrefix(fragment, "Error:") {
			failed = strings.TrimSpace(strings.TrimPrefix(fragment, "Error:"))
		}
		fmt.Fprint(s.out, fragment)
	}
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out)

	if runCtx.Err() != nil && ctx.Err() == nil {
		// cancelled by the user; keep the session going
		return nil
	}
	answered := len(transcript) > 0 && transcript[len(transcript)-1].Role == react.RoleAssistant
	if !answered {
		if failed == "" {
			failed = "no answer"
		}
		return fmt.Errorf("%w: %s", ErrResearchFailed, failed)
	}

	s.History = append(conv, react.Message{Role: react.RoleAssistant, Content: answer.String()})
	s.LastAnswer = answer.String()
	s.Turns++
	s.Searches += transcript.Observations()
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs a chat command. It returns false when the chat
// should end.
func handleSlashCommand(ctx context.Context, s *ChatSession, input string) (bool, error) {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/exit", "/quit", "/q":
		return false, nil

	case "/help", "/h", "/?":
		printChatHelp(s.out)

	case "/clear", "/c":
		s.History = nil
		s.LastAnswer = ""
		fmt.Fprintln(s.out, DimStyle.Render("Conversation cleared"))

	case "/pdf":
		if s.LastAnswer == "" {
			return true, errors.New("nothing to export yet")
		}
		path := ""
		if len(fields) > 1 {
			path = fields[1]
		}
		out, err := s.App.ExportTo(s.LastAnswer, path, export.FormatPDF)
		if err != nil {
			return true, err
		}
		fmt.Fprintf(s.out, "%s Saved %s\n", SuccessStyle.Render("[OK]"), out)

	case "/usage":
		if s.App.Limiter == nil {
			fmt.Fprintln(s.out, DimStyle.Render("Quota enforcement is off"))
			return true, nil
		}
		statuses, err := s.App.Limiter.Snapshot(ctx)
		if err != nil {
			return true, err
		}
		printUsageTable(s.out, statuses)

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", fields[0])
	}
	return true, nil
}

// =============================================================================
// DISPLAY
// =============================================================================

func printWelcome(s *ChatSession) {
	fmt.Fprintln(s.out, welcomeStyle.Render("Deep Research chat"))
	tools := "search off"
	if s.App.Tools.Enabled() {
		var on []string
		if s.App.Tools.Available(react.ToolDiscovery) {
			on = append(on, "discovery")
		}
		if s.App.Tools.Available(react.ToolFact) {
			on = append(on, "fact")
		}
		tools = "search: " + strings.Join(on, "+")
	}
	fmt.Fprintf(s.out, "%s %s  %s\n", LabelStyle.Render("Model:"), ValueStyle.Render(s.App.ModelName), DimStyle.Render(tools))
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit"))
	fmt.Fprintln(s.out)
}

func printChatHelp(w io.Writer) {
	fmt.Fprintln(w, SectionStyle.Render("Commands"))
	fmt.Fprintln(w, "  /help, /h         Show this help")
	fmt.Fprintln(w, "  /clear, /c        Clear conversation history")
	fmt.Fprintln(w, "  /pdf [FILE]       Export the last answer as PDF")
	fmt.Fprintln(w, "  /usage            Show search quota counters")
	fmt.Fprintln(w, "  /exit, /q         Exit chat")
	fmt.Fprintln(w, DimStyle.Render("  Ctrl+C cancels a running search, Ctrl+D exits"))
}

func printExitSummary(s *ChatSession) {
	if s.Quiet {
		return
	}
	elapsed := time.Since(s.StartTime).Round(time.Second)
	fmt.Fprintf(s.out, "%s %d turn(s), %d search(es) in %s\n",
		DimStyle.Render("Session:"), s.Turns, s.Searches, elapsed)
}
