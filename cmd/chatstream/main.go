package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"chatstream/internal/adapter/sseclient"
	"chatstream/internal/adapter/tui/chat"
	"chatstream/internal/infra/config"
	"chatstream/internal/infra/logger"
	"chatstream/internal/infra/tracer"
	"chatstream/internal/usecase/eventbus"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Handle help flag first
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "--version", "version":
			fmt.Println("chatstream", version)
			return
		}
	}

	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "serve":
		if err := runServe(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
	case "chat":
		if err := runChat(); err != nil {
			fmt.Fprintf(os.Stderr, "chat: %v\n", err)
			os.Exit(1)
		}
	case "models":
		if err := runModels(); err != nil {
			fmt.Fprintf(os.Stderr, "models: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'chatstream --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`chatstream - streaming chat gateway for local and hosted LLMs

USAGE:
    chatstream [COMMAND] [FLAGS]

COMMANDS:
    serve       Run the streaming gateway (default)
    chat        Open the terminal chat client
    models      List the models the server's backend offers
    doctor      Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --version          Print the version
    --config PATH      Specify config file path (default: ./config.yaml)
    --addr ADDR        Listen address for serve (overrides server.addr)
    --url URL          Server URL for chat and models (overrides client.url)

CONFIGURATION:
    Config file: ./config.yaml (optional; defaults target a local Ollama)
    Environment: CHATSTREAM_* variables override config, .env is loaded if present

EXAMPLES:
    chatstream                                  # Serve on :8050
    chatstream serve --addr 127.0.0.1:9000      # Serve on another address
    chatstream chat                             # Chat with the local server
    chatstream chat --url http://gpu-box:8050   # Chat with a remote server
    chatstream doctor                           # Check the setup`)
}

// flagValue returns the value of --name from os.Args, in either the
// "--name value" or "--name=value" form.
func flagValue(name string) string {
	long := "--" + name
	for i, arg := range os.Args {
		if arg == long && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, long+"="); ok {
			return v
		}
	}
	return ""
}

func configPath() string {
	if p := flagValue("config"); p != "" {
		return p
	}
	if p := os.Getenv("CHATSTREAM_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// loadConfig reads the config and applies command-line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, err
	}
	if addr := flagValue("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if u := flagValue("url"); u != "" {
		cfg.Client.URL = u
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe() error {
	// 1. Config
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
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
	defer tracerShutdown(context.Background())

	// 3. LLM providers
	llmComp, err := initLLM(cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 4. Event bus
	bus := eventbus.New(log)
	defer bus.Close()
	unsubscribe := eventbus.LogEvents(bus, log)
	defer unsubscribe()

	// 5. Runtime (history, cluster, stream service, scheduler, gateway)
	rt, runtimeCleanup, err := initRuntime(ctx, cfg, llmComp, bus, log)
	if err != nil {
		return fmt.Errorf("runtime: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout+5*time.Second)
		defer cancel()
		if err := runtimeCleanup(shutdownCtx); err != nil {
			log.Error("runtime cleanup error", "error", err)
		}
	}()

	log.Info("chatstream starting",
		"version", version,
		"addr", cfg.Server.Addr,
		"provider", cfg.LLM.DefaultProvider,
		"providers", llmComp.Registry.List(),
		"workers", cfg.Stream.Workers,
		"history", rt.History != nil,
		"cluster", rt.Cluster != nil,
	)

	// 6. Run until a signal arrives or a component fails
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.Gateway.Start(gctx)
	})
	if rt.Scheduler != nil {
		g.Go(func() error {
			return rt.Scheduler.Start(gctx)
		})
	}
	g.Go(func() error {
		llmComp.Warmup(gctx, log)
		return nil
	})

	err = g.Wait()
	log.Info("chatstream stopped")
	return err
}

func runChat() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// The TUI owns the terminal; logs go to a file or nowhere.
	log := logger.Discard()
	if cfg.Logger.Output != "" && cfg.Logger.Output != "stderr" && cfg.Logger.Output != "stdout" {
		l, closer, err := logger.New(cfg.Logger)
		if err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer closer()
		log = l
	}

	client := sseclient.New(cfg.Client.URL,
		sseclient.WithToken(cfg.Client.Token),
		sseclient.WithLogger(log),
	)

	model := chat.NewChatModel(chat.ChatModelDeps{
		Client:          client,
		Logger:          log,
		Server:          cfg.Client.URL,
		ModelName:       defaultModelName(cfg),
		ShowThinking:    cfg.Client.ShowThinking,
		AutoCollapse:    cfg.Client.ThinkingAutoCollapse,
		CollapseDelay:   cfg.Client.ThinkingCollapseDelay,
		TypewriterSpeed: cfg.Client.TypewriterSpeed,
		OnUserMessage: func(id, prompt string) {
			log.Debug("message sent", "message_id", id, "prompt_len", len(prompt))
		},
		OnStreamComplete: func(id, full string) {
			log.Debug("answer received", "message_id", id, "content_len", len(full))
		},
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("chat client: %w", err)
	}
	return nil
}

// defaultModelName is a status bar hint; the server decides the real model.
func defaultModelName(cfg *config.Config) string {
	if pc, ok := cfg.DefaultProvider(); ok {
		return pc.Model
	}
	return ""
}

func runModels() error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	models, err := sseclient.New(cfg.Client.URL, sseclient.WithToken(cfg.Client.Token)).Models(ctx)
	if err != nil {
		return err
	}
	if len(models) == 0 {
		fmt.Println("No models available.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE\tMODIFIED")
	for _, m := range models {
		modified := "-"
		if !m.ModifiedAt.IsZero() {
			modified = m.ModifiedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", m.Name, humanSize(m.Size), modified)
	}
	return w.Flush()
}

func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(n)/float64(div), "KMGTPE"[exp])
}
