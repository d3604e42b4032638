package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"llama-chat/internal/adapter/tui/chat"
	"llama-chat/internal/adapter/tui/theme"
	"llama-chat/internal/infra/config"
	"llama-chat/internal/infra/logger"
	"llama-chat/internal/infra/tracer"
)

// valueFlags take the following argument as their value.
var valueFlags = map[string]bool{"--config": true, "--conversation": true}

func main() {
	for _, arg := range os.Args[1:] {
		switch arg {
		case "--help", "-h":
			showUsage()
			return
		}
	}

	switch command := subcommand(os.Args[1:]); command {
	case "":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "help":
		showUsage()
	case "list":
		if err := runList(); err != nil {
			fmt.Fprintf(os.Stderr, "list: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'llama-chat --help' for usage information.\n", command)
		os.Exit(1)
	}
}

// subcommand returns the first argument that is neither a flag nor a flag's
// value, or "" when there is none.
func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			return arg
		}
		if valueFlags[arg] {
			i++
		}
	}
	return ""
}

func showUsage() {
	fmt.Println(`llama-chat - terminal client for a llama.cpp chat backend

USAGE:
    llama-chat [COMMAND] [FLAGS]

COMMANDS:
    list        Print the backend's conversations and exit
    doctor      Check config, backend and cache

    (no command) - Open the chat UI

FLAGS:
    -h, --help              Show this help message
    --config PATH           Config file path (default: ./config.yaml)
    --conversation ID       Open this conversation at startup

CONFIGURATION:
    Config file: ./config.yaml (optional, defaults apply when missing)
    Environment: LLAMACHAT_* variables override config

EXAMPLES:
    llama-chat
    llama-chat --conversation 3f2a...
    LLAMACHAT_BACKEND_URL=http://gpu-box:8000 llama-chat list
    llama-chat doctor`)
}

func run() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if id := flagValue("--conversation"); id != "" {
		cfg.UI.Conversation = id
	}
	// The UI owns the terminal, so logs must not go to it.
	if isTerminalOutput(cfg.Logger.Output) {
		cfg.Logger.Output = config.Defaults().Logger.Output
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracerShutdown(shutdownCtx)
	}()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	theme.InitSymbols(cfg.UI.ASCIISymbols)
	log.Info("llama-chat starting", "backend", cfg.Backend.BaseURL, "ws", a.wsURL, "cache", a.cacheEnabled())

	err = chat.Run(ctx, chat.ModelDeps{
		Controller: a.manager,
		Logger:     log,
		OpenOnInit: cfg.UI.Conversation,
	}, a.bus)
	if err != nil {
		return fmt.Errorf("tui: %w", err)
	}
	log.Info("llama-chat stopped")
	return nil
}

// runList prints the conversations known to the backend.
func runList() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Backend.RequestTimeout)
	defer cancel()
	items, err := a.manager.List(ctx)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("No conversations.")
		return nil
	}
	for i, c := range items {
		fmt.Printf("%3d. %-32s %s\n", i+1, c.Name, c.ID)
	}
	return nil
}

func configPath() string {
	if p := flagValue("--config"); p != "" {
		return p
	}
	if p := os.Getenv("LLAMACHAT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// flagValue returns the value of "--name value" or "--name=value" in
// os.Args.
func flagValue(name string) string {
	for i, arg := range os.Args {
		if arg == name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"=")
		}
	}
	return ""
}

func isTerminalOutput(output string) bool {
	switch strings.ToLower(output) {
	case "", "stdout", "stderr":
		return true
	}
	return false
}
