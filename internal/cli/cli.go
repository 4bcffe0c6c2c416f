// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - CLI parsing and simple command handlers for deepresearch.
package cli

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Output streams. Tests swap them for buffers.
var (
	stdout io.Writer = os.Stdout
	stderr io.Writer = os.Stderr
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdTUI Command = iota
	CmdReport
	CmdChat
	CmdUsage
	CmdServe
	CmdConfig
	CmdDoctor
	CmdVersion
	CmdHelp
)

// String returns the command name used in JSON output.
func (c Command) String() string {
	switch c {
	case CmdTUI:
		return "tui"
	case CmdReport:
		return "report"
	case CmdChat:
		return "chat"
	case CmdUsage:
		return "usage"
	case CmdServe:
		return "serve"
	case CmdConfig:
		return "config"
	case CmdDoctor:
		return "doctor"
	case CmdVersion:
		return "version"
	case CmdHelp:
		return "help"
	}
	return "unknown"
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet   bool
	Verbose bool
	JSON    bool   // Output in JSON format
	Model   string // Overrides model.name
	NoTools bool   // Run without search tools

	// Command-specific
	Query      string
	Subcommand string
	ConfigKey  string
	ConfigVal  string

	// Raw args (remaining after the command word)
	Raw []string
}

const usageText = `deepresearch - ReAct research assistant with live web search

Usage:
  deepresearch                          Start the full-screen TUI (default)
  deepresearch report "topic" [flags]   Generate a one-off research report
  deepresearch chat                     Interactive research chat (REPL)
  deepresearch tui                      Full-screen research chat
  deepresearch usage [reset [provider]] Show or reset search quotas
  deepresearch serve [--addr host:port] Start the HTTP API
  deepresearch config [show|get|set|path|init]
  deepresearch doctor [--online]        Check configuration and connectivity
  deepresearch version                  Show version information

Report Flags:
  --pdf [FILE]        Export the report as PDF (timestamped name if FILE omitted)
  --md [FILE]         Export the report as Markdown
  --format FORMAT     Export with pdf, md or json into export.output_dir

Global Flags:
  --model MODEL       OpenRouter model (name or alias: deepresearch, sonnet, gpt4o)
  --no-tools          Answer from the model alone, without web search
  --json              Machine-readable output
  -q, --quiet         Suppress progress output
  -v, --verbose       Debug logging to stderr

Environment:
  DEEPRESEARCH_OPENROUTER_KEY (or OPENROUTER_API_KEY)  Model API key
  DEEPRESEARCH_TAVILY_KEY (or TAVILY_API_KEY)          Fact search key
  DEEPRESEARCH_EXA_KEY (or EXA_API_KEY)                Discovery search key
  DEEPRESEARCH_HOME                                    Config directory (~/.deepresearch)

Examples:
  deepresearch report "LLM releases in November 2025" --pdf
  deepresearch --no-tools report "explain retrieval augmented generation"
  deepresearch usage --json
  deepresearch config set usage.daily_limit 50

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Fprintf(stdout, usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Fprintf(stdout, "deepresearch version %s\n", Version)
	fmt.Fprintf(stdout, "  Git commit: %s\n", GitCommit)
	fmt.Fprintf(stdout, "  Build date: %s\n", BuildDate)
}

// Parse parses os.Args and returns the command and args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses argv (without the program name).
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdTUI, parsedArgs
	}

	word := remaining[0]
	cmd := strings.ToLower(word)
	remaining = remaining[1:]
	parsedArgs.Raw = remaining

	switch cmd {
	case "tui":
		return CmdTUI, parsedArgs

	case "report", "r":
		parsedArgs.Query = JoinPositionalArgs(NewArgParser(remaining), 0)
		return CmdReport, parsedArgs

	case "chat":
		return CmdChat, parsedArgs

	case "usage":
		parsedArgs.Subcommand = NewArgParser(remaining).Subcommand()
		return CmdUsage, parsedArgs

	case "serve", "server":
		return CmdServe, parsedArgs

	case "config":
		parseConfigArgs(&parsedArgs, remaining)
		return CmdConfig, parsedArgs

	case "doctor":
		return CmdDoctor, parsedArgs

	case "version", "--version":
		return CmdVersion, parsedArgs

	case "help", "-h", "--help":
		return CmdHelp, parsedArgs

	default:
		// Anything else is a report topic
		parsedArgs.Raw = append([]string{word}, remaining...)
		parsedArgs.Query = JoinPositionalArgs(NewArgParser(parsedArgs.Raw), 0)
		return CmdReport, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--no-tools":
			parsedArgs.NoTools = true
		case "--model":
			if i+1 < len(args) {
				i++
				parsedArgs.Model = args[i]
			}
		default:
			if strings.HasPrefix(arg, "--model=") {
				parsedArgs.Model = strings.TrimPrefix(arg, "--model=")
			} else {
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, parsedArgs
}

// parseConfigArgs parses config command specific arguments.
func parseConfigArgs(args *Args, remaining []string) {
	if len(remaining) > 0 {
		args.Subcommand = remaining[0]
	}
	if len(remaining) > 1 {
		args.ConfigKey = remaining[1]
	}
	if len(remaining) > 2 {
		args.ConfigVal = strings.Join(remaining[2:], " ")
	}
}

// =============================================================================
// SIMPLE COMMAND HANDLERS
// =============================================================================

// HandleVersion handles the "version" command with JSON output support.
func HandleVersion(args Args) error {
	if args.JSON {
		return NewJSONResponse("version", VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		}).Print()
	}
	PrintVersion()
	return nil
}

// HandleHelp handles the "help" command.
func HandleHelp() {
	PrintUsage()
}
