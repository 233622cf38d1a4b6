// ABOUTME: Entry point for the helix-chat multi-agent conversation pipeline
// ABOUTME: Wires store, providers, executor and orchestrator behind a small CLI

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/swombat/helix-chat/internal/config"
	"github.com/swombat/helix-chat/internal/orchestrator"
	"github.com/swombat/helix-chat/internal/provider"
	anthropicclient "github.com/swombat/helix-chat/internal/provider/anthropic"
	openaiclient "github.com/swombat/helix-chat/internal/provider/openai"
	"github.com/swombat/helix-chat/internal/store"
	"github.com/swombat/helix-chat/internal/stream"
	"github.com/swombat/helix-chat/internal/turn"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _          _ _                 _           _
| |__   ___| (_)_  __   ___ ___| |__   __ _| |_
| '_ \ / _ \ | \ \/ / _____/ __| '_ \ / _' | __|
| | | |  __/ | |>  < |_____| (__| | | | (_| | |_
|_| |_|\___|_|_/_/\_\       \___|_| |_|\__,_|\__|
`

// getConfigPath returns the path to the helix-chat config file.
// HELIX_CONFIG overrides the XDG default of ~/.config/helix/chat.yaml.
func getConfigPath() string {
	if envPath := os.Getenv("HELIX_CONFIG"); envPath != "" {
		return envPath
	}

	configDir, err := os.UserConfigDir()
	if err != nil {
		return "chat.yaml" // fallback
	}
	return filepath.Join(configDir, "helix", "chat.yaml")
}

// getDataPath returns the path to the helix data directory.
// Priority: XDG_DATA_HOME/helix > ~/.local/share/helix
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "helix")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: helix-chat <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  chat                     Start an interactive conversation session")
		fmt.Println("  init                     Create a new config file interactively")
		fmt.Println("  agent --name N --model M Add an agent")
		fmt.Println("  agents                   List configured agents")
		fmt.Println("  health                   Check database reachability")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "chat":
		err = runChat(ctx)
	case "init":
		err = runInit()
	case "agent":
		err = runAgentAdd(ctx)
	case "agents":
		err = runAgents(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func accountID(cfg *config.Config) string {
	if cfg.Server.AccountID != "" {
		return cfg.Server.AccountID
	}
	return "local"
}

func runChat(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	table, err := provider.LoadTable(cfg.Models.Path)
	if err != nil {
		return fmt.Errorf("loading model table: %w", err)
	}

	account := accountID(cfg)
	registry := provider.NewRegistry()
	for name, pc := range cfg.Providers {
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = table.Providers[name].BaseURL
		}

		switch table.Endpoint(name) {
		case provider.EndpointMessages:
			registry.Register(name, anthropicclient.New(anthropicclient.Options{
				APIKey:  pc.APIKey,
				BaseURL: baseURL,
			}))
		default:
			registry.Register(name, openaiclient.New(openaiclient.Options{
				APIKey:  pc.APIKey,
				BaseURL: baseURL,
			}))
		}

		// Configured keys double as the account's stored credentials so the
		// executor's pre-check sees them.
		if err := st.SaveCredential(ctx, &store.Credential{
			AccountID: account,
			Provider:  name,
			APIKey:    pc.APIKey,
		}); err != nil {
			return fmt.Errorf("saving %s credential: %w", name, err)
		}
	}

	broadcaster := stream.NewBroadcaster(logger)
	defer broadcaster.Close()

	exec := turn.NewExecutor(st, st, table, registry, broadcaster, turn.Options{
		FlushInterval: cfg.Streaming.FlushInterval,
		CallTimeout:   cfg.Turns.CallTimeout,
		HistoryLimit:  cfg.Turns.HistoryLimit,
	}, logger)

	orch := orchestrator.New(st, exec, orchestrator.Options{}, logger)
	defer orch.Close()

	conv, err := openConversation(ctx, st, account, os.Args[2:])
	if err != nil {
		return err
	}

	participants, err := st.ListParticipants(ctx, conv.ID)
	if err != nil {
		return fmt.Errorf("listing participants: %w", err)
	}
	if len(participants) == 0 {
		return fmt.Errorf("no agents configured; add one with: helix-chat agent --name NAME --model MODEL")
	}

	names := make(map[int64]string, len(participants))
	green := color.New(color.FgGreen)
	for _, a := range participants {
		names[a.ID] = a.Name
		green.Print("    ▶ ")
		fmt.Printf("%s (%s)\n", a.Name, a.ModelID)
	}
	fmt.Println()
	gray.Println("    Mention an agent by name to get a reply. /stop aborts, /quit exits.")
	fmt.Println()

	updates, _ := broadcaster.Subscribe(ctx, conv.ID)
	go printUpdates(updates, names)

	logger.Info("chat session started", "conversation_id", conv.ID, "agents", len(participants))

	reader := bufio.NewReader(os.Stdin)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Println()
			return nil
		}
		line = strings.TrimSpace(line)

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/stop":
			orch.Stop(conv.ID)
			continue
		}

		msg := &store.Message{
			ID:             uuid.New().String(),
			ConversationID: conv.ID,
			Role:           store.RoleUser,
			Content:        line,
			CreatedAt:      time.Now(),
		}
		if err := st.SaveMessage(ctx, msg); err != nil {
			return fmt.Errorf("saving message: %w", err)
		}
		if err := orch.EnqueueTurn(conv.ID, orchestrator.Trigger{
			MessageID: msg.ID,
			Text:      line,
		}); err != nil {
			return fmt.Errorf("enqueueing turn: %w", err)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// openConversation loads the conversation named by --conversation, or
// creates a fresh multi-agent one joined by every configured agent.
func openConversation(ctx context.Context, st *store.SQLiteStore, account string, args []string) (*store.Conversation, error) {
	var convID string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--conversation" || arg == "-c":
			if i+1 >= len(args) {
				return nil, fmt.Errorf("--conversation requires a value")
			}
			convID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--conversation="):
			convID = strings.TrimPrefix(arg, "--conversation=")
		default:
			return nil, fmt.Errorf("unknown flag: %s", arg)
		}
	}

	if convID != "" {
		conv, err := st.GetConversation(ctx, convID)
		if err != nil {
			return nil, fmt.Errorf("loading conversation %s: %w", convID, err)
		}
		return conv, nil
	}

	conv := &store.Conversation{
		ID:        uuid.New().String(),
		AccountID: account,
		Title:     "chat " + time.Now().Format("Jan 02 15:04"),
		Mode:      store.ModeManual,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	if err := st.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}

	agents, err := st.ListAgents(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("listing agents: %w", err)
	}
	for _, a := range agents {
		if err := st.AddParticipant(ctx, conv.ID, a.ID); err != nil {
			return nil, fmt.Errorf("joining %s: %w", a.Name, err)
		}
	}
	return conv, nil
}

// printUpdates renders coalesced stream updates incrementally. Every update
// carries the full accumulated channel text, so only the unseen suffix is
// printed.
func printUpdates(updates <-chan stream.Update, names map[int64]string) {
	gray := color.New(color.FgHiBlack)
	yellow := color.New(color.FgYellow)
	magenta := color.New(color.FgMagenta)

	type key struct {
		agentID int64
		channel string
	}
	printed := make(map[key]int)

	for u := range updates {
		if u.Failure != "" {
			yellow.Printf("\n  [%s]\n", u.Failure)
			delete(printed, key{u.AgentID, stream.ChannelThinking})
			delete(printed, key{u.AgentID, stream.ChannelContent})
			continue
		}

		k := key{u.AgentID, u.Channel}
		seen := printed[k]
		if seen == 0 && u.Text != "" {
			name := names[u.AgentID]
			if u.Channel == stream.ChannelThinking {
				gray.Printf("\n  %s (thinking) ", name)
			} else {
				magenta.Printf("\n  %s ▶ ", name)
			}
		}
		if len(u.Text) > seen {
			suffix := u.Text[seen:]
			if u.Channel == stream.ChannelThinking {
				gray.Print(suffix)
			} else {
				fmt.Print(suffix)
			}
			printed[k] = len(u.Text)
		}
		if u.Final {
			if printed[k] > 0 {
				fmt.Println()
			}
			delete(printed, k)
		}
	}
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLogLevel(cfg.Level)

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(newColorHandler(level))
}

func parseLogLevel(name string) slog.Level {
	switch name {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// colorHandler renders compact colorized log lines for interactive use.
type colorHandler struct {
	mu     *sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	prefix string
}

func newColorHandler(level slog.Level) *colorHandler {
	return &colorHandler{mu: &sync.Mutex{}, level: level}
}

var levelTags = map[slog.Level]string{
	slog.LevelDebug: color.MagentaString("DBG"),
	slog.LevelInfo:  color.CyanString("INF"),
	slog.LevelWarn:  color.YellowString("WRN"),
	slog.LevelError: color.New(color.FgRed, color.Bold).Sprint("ERR"),
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	var buf strings.Builder
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05")))
	buf.WriteByte(' ')

	if tag, ok := levelTags[r.Level]; ok {
		buf.WriteString(tag)
	} else {
		buf.WriteString("???")
	}
	buf.WriteByte(' ')
	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		writeAttr(&buf, h.prefix, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&buf, h.prefix, a)
		return true
	})
	buf.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	fmt.Print(buf.String())
	return nil
}

func writeAttr(buf *strings.Builder, prefix string, a slog.Attr) {
	buf.WriteString(color.HiBlackString(" " + prefix + a.Key + "="))
	buf.WriteString(a.Value.String())
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.attrs = append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...)
	return &clone
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

// runAgentAdd creates an agent from flags.
// Supports both "--name value" and "--name=value" formats.
func runAgentAdd(ctx context.Context) error {
	var name, modelID, prompt string
	var thinking bool

	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			name = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			name = strings.TrimPrefix(arg, "--name=")
		case arg == "--model" || arg == "-m":
			if i+1 >= len(args) {
				return fmt.Errorf("--model requires a value")
			}
			modelID = args[i+1]
			i++
		case strings.HasPrefix(arg, "--model="):
			modelID = strings.TrimPrefix(arg, "--model=")
		case arg == "--prompt" || arg == "-p":
			if i+1 >= len(args) {
				return fmt.Errorf("--prompt requires a value")
			}
			prompt = args[i+1]
			i++
		case strings.HasPrefix(arg, "--prompt="):
			prompt = strings.TrimPrefix(arg, "--prompt=")
		case arg == "--thinking":
			thinking = true
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("--name flag is required")
	}
	if modelID == "" {
		return fmt.Errorf("--model flag is required")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reject models the capability table does not know about.
	table, err := provider.LoadTable(cfg.Models.Path)
	if err != nil {
		return fmt.Errorf("loading model table: %w", err)
	}
	capability, ok := table.Lookup(modelID)
	if !ok {
		return fmt.Errorf("model %q is not in %s", modelID, cfg.Models.Path)
	}
	if thinking && !capability.SupportsThinking {
		return fmt.Errorf("model %q does not support thinking", modelID)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	agent := &store.Agent{
		AccountID: accountID(cfg),
		Name:      name,
		ModelID:   modelID,
		Thinking:  thinking,
		Prompt:    prompt,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	id, err := st.CreateAgent(ctx, agent)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	green := color.New(color.FgGreen)
	green.Printf("  ✓ Created agent %d: %s (%s)\n", id, name, modelID)
	return nil
}

func runAgents(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	agents, err := st.ListAgents(ctx, accountID(cfg))
	if err != nil {
		return fmt.Errorf("listing agents: %w", err)
	}

	if len(agents) == 0 {
		fmt.Println("No agents configured.")
		return nil
	}

	for _, a := range agents {
		thinking := ""
		if a.Thinking {
			thinking = " [thinking]"
		}
		fmt.Printf("  %3d  %-20s %s%s\n", a.ID, a.Name, a.ModelID, thinking)
	}
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// A cheap read proves the schema is in place.
	if _, err := st.ListConversations(ctx, accountID(cfg), 1); err != nil {
		return fmt.Errorf("unhealthy: %w", err)
	}

	fmt.Println("healthy")
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("helix-chat configuration setup")
	fmt.Println("==============================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "chat.db")
	defaultModelsPath := filepath.Join(filepath.Dir(defaultConfigPath), "models.toml")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Model table
	fmt.Println("\n--- Model Configuration ---")
	modelsPath := prompt(reader, "Model capability table path", defaultModelsPath)

	// Providers
	fmt.Println("\n--- Provider Configuration ---")
	fmt.Println("API keys are read from the environment at startup.")
	enableAnthropic := prompt(reader, "Enable Anthropic (direct)?", "yes")
	anthropicEnabled := strings.ToLower(enableAnthropic) == "yes" || strings.ToLower(enableAnthropic) == "y"
	enableOpenRouter := prompt(reader, "Enable OpenRouter?", "yes")
	openRouterEnabled := strings.ToLower(enableOpenRouter) == "yes" || strings.ToLower(enableOpenRouter) == "y"

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "warn")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# helix-chat configuration\n")
	cfg.WriteString("# Generated by helix-chat init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString("  account_id: \"local\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("models:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", modelsPath))
	cfg.WriteString("\n")

	cfg.WriteString("providers:\n")
	if anthropicEnabled {
		cfg.WriteString("  anthropic:\n")
		cfg.WriteString("    api_key: \"${ANTHROPIC_API_KEY}\"\n")
	}
	if openRouterEnabled {
		cfg.WriteString("  openrouter:\n")
		cfg.WriteString("    api_key: \"${OPENROUTER_API_KEY}\"\n")
		cfg.WriteString("    base_url: \"https://openrouter.ai/api/v1\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("streaming:\n")
	cfg.WriteString("  flush_interval: \"250ms\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("turns:\n")
	cfg.WriteString("  call_timeout: \"2m\"\n")
	cfg.WriteString("  history_limit: 50\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Write a starter model table if none exists
	if _, err := os.Stat(modelsPath); os.IsNotExist(err) {
		if err := os.WriteFile(modelsPath, []byte(starterModels(anthropicEnabled, openRouterEnabled)), 0644); err != nil {
			return fmt.Errorf("writing model table: %w", err)
		}
		fmt.Printf("\nModel table written to %s\n", modelsPath)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nNext steps:")
	fmt.Println("  helix-chat agent --name Scout --model claude-sonnet-4-20250514")
	fmt.Println("  helix-chat chat")

	return nil
}

func starterModels(anthropic, openRouter bool) string {
	var b strings.Builder
	b.WriteString("# helix-chat model capability table\n")
	b.WriteString("# Generated by helix-chat init\n\n")

	if anthropic {
		b.WriteString("[models.\"claude-sonnet-4-20250514\"]\n")
		b.WriteString("supports_thinking = true\n")
		if openRouter {
			b.WriteString("default_provider = \"openrouter\"\n")
		} else {
			b.WriteString("default_provider = \"anthropic\"\n")
		}
		b.WriteString("thinking_provider = \"anthropic\"\n\n")
	}
	if openRouter {
		b.WriteString("[models.\"meta-llama/llama-3.3-70b-instruct\"]\n")
		b.WriteString("default_provider = \"openrouter\"\n\n")
	}

	if anthropic {
		b.WriteString("[providers.anthropic]\n")
		b.WriteString("endpoint = \"messages\"\n\n")
	}
	if openRouter {
		b.WriteString("[providers.openrouter]\n")
		b.WriteString("endpoint = \"chat\"\n")
		b.WriteString("base_url = \"https://openrouter.ai/api/v1\"\n")
	}
	return b.String()
}

// prompt asks a question on stdout and returns the trimmed answer,
// falling back to defaultVal on an empty line or EOF.
func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		fmt.Println()
		return defaultVal
	}
	if input = strings.TrimSpace(input); input == "" {
		return defaultVal
	}
	return input
}
