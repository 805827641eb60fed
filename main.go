// ABOUTME: Entry point for the huddle CLI, TUI, MCP server, and development backend
// ABOUTME: Loads configuration and routes to a command based on arguments
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/yaml.v3"

	"github.com/harperreed/huddle/cli"
	"github.com/harperreed/huddle/config"
)

const version = "0.1.0"

func main() {
	// Global flags
	showVersion := flag.Bool("version", false, "Show version and exit")
	configPath := flag.String("config", config.Path(), "Config file path")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	showConfig := flag.Bool("show-config", false, "Print the effective configuration and exit")

	// Parse global flags; subcommands parse their own
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("huddle version %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}

	logger, err := config.NewLogger(os.Stderr, cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}

	if *showConfig {
		data, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			log.Fatalf("Failed to print config: %v", err)
		}
		fmt.Print(string(data))
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := &cli.Env{Config: cfg, Logger: logger, Version: version}

	command := args[0]
	commandArgs := args[1:]

	var run func(context.Context, *cli.Env, []string) error
	switch command {
	case "backend":
		run = cli.BackendCommand
	case "signup":
		run = cli.SignupCommand
	case "login":
		run = cli.LoginCommand
	case "logout":
		run = cli.LogoutCommand
	case "projects":
		run = cli.ProjectsCommand
	case "watch":
		run = cli.WatchCommand
	case "tasks":
		run = cli.TasksCommand
	case "comment":
		run = cli.CommentCommand
	case "discuss":
		run = cli.DiscussCommand
	case "meetings":
		run = cli.MeetingsCommand
	case "notifications":
		run = cli.NotificationsCommand
	case "status":
		run = cli.StatusCommand
	case "mcp":
		run = cli.MCPCommand
	default:
		fmt.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}

	if err := run(ctx, env, commandArgs); err != nil {
		stop()
		log.Fatalf("Error: %v", err)
	}
}

func printUsage() {
	fmt.Printf(`huddle v%s - realtime project collaboration

USAGE:
  huddle [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --config <path>        Config file (default: ~/.config/huddle/config.yaml)
  --log-level <level>    debug, info, warn, or error (default: info)
  --show-config          Print the effective configuration and exit

COMMANDS:
  backend [serve]        Serve the development backend (SQLite, REST, realtime)
    --addr <addr>            Listen address (default: :54321)
    --db <path>              Database path (default: ~/.local/share/huddle/backend.db)
    --watch <interval>       Poll for writes from other processes (default: 1s)
  backend adduser        Add an account directly to the backend database
    --email <email>          Account email (required)
    --name <name>            Display name

  signup                 Create an account on the backend
  login                  Log in and save the session
    --email <email>          Account email
    --project <id>           Select a project
  logout                 Revoke and forget the saved session

  projects [list]        List projects (* marks the selected one)
  projects add <name>    Create a project and select it
  projects use <id>      Select a project

  watch                  Live terminal view of every collection
  mcp                    Start MCP server on stdio

  tasks add [flags] <title>  Add a task (flags come before the title)
    --description <text>     Details
    --assignee <user id>     Assignee
    --due <date>             Due date (YYYY-MM-DD, "YYYY-MM-DD HH:MM", or RFC3339)
  tasks list             List tasks
    --status <status>        pending, in_progress, completed, or cancelled
  tasks start|done|cancel <id>
  tasks rm <id>

  comment add [--task <id>] <text>
  comment list [--task <id>]
  discuss post [--reply-to <id>] <text>
  discuss list
  discuss react [--emoji <e>] <id>
  meetings schedule --title <t> --at <time> [--minutes <n>] [--location <l>]
  meetings list
  notifications [--unread] [--read <id>]

  status                 Connectivity, change feeds, and per-collection sync state

  Commands that read or write project data accept --project <id>.

EXAMPLES:
  # Run a local backend and create an account
  huddle backend &
  huddle signup --email ada@example.com
  huddle login --email ada@example.com
  huddle projects add "Launch"

  # Work with tasks
  huddle tasks add --due 2030-01-15 "Write the brief"
  huddle tasks list --status pending

  # Watch everything live
  huddle watch

`, version)
}
