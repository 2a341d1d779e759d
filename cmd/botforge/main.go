package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/prathyushnallamothu/botforge/pkg/agent"
	"github.com/prathyushnallamothu/botforge/pkg/api"
	"github.com/prathyushnallamothu/botforge/pkg/config"
	"github.com/prathyushnallamothu/botforge/pkg/llm"
	"github.com/prathyushnallamothu/botforge/pkg/session"
	"github.com/prathyushnallamothu/botforge/pkg/store"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "", "Path to config file")
	interactive := flag.Bool("interactive", true, "Run in interactive mode")
	query := flag.String("query", "", "Bot description to run in non-interactive mode")
	serverMode := flag.Bool("server", false, "Run as API server")
	serverAddr := flag.String("addr", "", "Address for API server to listen on (overrides config)")
	clientMode := flag.Bool("client", false, "Run as API client")
	serverURL := flag.String("server-url", "http://localhost:8080", "URL of the API server")
	provider := flag.String("provider", "", "LLM provider: openai or deepseek (overrides config)")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	// Enable verbose logging if requested
	if *verbose {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
		log.Println("Verbose logging enabled")
	}

	// Load .env before reading API keys from the environment
	_ = godotenv.Load()

	// Client mode needs no local LLM or stores
	if *clientMode {
		runClient(*serverURL, *interactive, *query)
		return
	}

	// Determine config path
	if *configPath == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			log.Fatalf("Failed to get user home directory: %v", err)
		}
		*configPath = filepath.Join(homeDir, ".botforge", "config.json")
	}

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Printf("Warning: Failed to load config: %v", err)
		log.Printf("Using default configuration")
		cfg = config.DefaultConfig()
	}
	if *provider != "" {
		cfg.LLMProvider = *provider
	}
	if *serverAddr != "" {
		cfg.Addr = *serverAddr
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}

	// Initialize the LLM client
	llmClient, err := buildLLMClient(cfg, *configPath)
	if err != nil {
		log.Fatalf("%v", err)
	}

	// Initialize stores
	flowStore, err := store.NewFileStore(filepath.Join(cfg.DataDir, "flows"))
	if err != nil {
		log.Fatalf("Failed to initialize flow store: %v", err)
	}

	var archive *store.SQLiteStore
	archive, err = store.NewSQLite(filepath.Join(cfg.DataDir, "botforge.db"))
	if err != nil {
		log.Printf("Warning: session archive unavailable: %v", err)
		archive = nil
	}

	// Create the session manager
	manager := session.NewManager(llmClient).WithMaxRepairs(cfg.MaxRepairs)

	ctx := context.Background()

	if archive != nil {
		manager.WithArchiver(archive)
		snapshots, err := archive.LoadSessions(ctx)
		if err != nil {
			log.Printf("Warning: failed to restore archived sessions: %v", err)
		} else if len(snapshots) > 0 {
			manager.Restore(snapshots)
			log.Printf("Restored %d archived sessions", len(snapshots))
		}
	}

	// Run the application in the appropriate mode
	if *serverMode {
		runServer(manager, flowStore, archive, cfg.Addr)
	} else if *query != "" {
		runQuery(ctx, manager, *query)
	} else if *interactive {
		runInteractive(ctx, manager, flowStore)
	} else {
		fmt.Println("Please provide a query with -query flag or use -interactive mode")
	}
}

// buildLLMClient creates the configured LLM client, resolving the API key
// from the config file or the environment
func buildLLMClient(cfg *config.Config, configPath string) (llm.Client, error) {
	envKeys := map[string]string{
		"openai":   "OPENAI_API_KEY",
		"deepseek": "DEEPSEEK_API_KEY",
	}

	envVar, ok := envKeys[cfg.LLMProvider]
	if !ok {
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLMProvider)
	}

	apiKey := cfg.APIKeys[cfg.LLMProvider]
	if apiKey == "" {
		apiKey = os.Getenv(envVar)
		if apiKey == "" {
			return nil, fmt.Errorf("%s API key not found. Please set it in the config file or %s environment variable", cfg.LLMProvider, envVar)
		}
		// Save to config
		if cfg.APIKeys == nil {
			cfg.APIKeys = make(map[string]string)
		}
		cfg.APIKeys[cfg.LLMProvider] = apiKey
		config.SaveConfig(cfg, configPath)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second

	switch cfg.LLMProvider {
	case "deepseek":
		client := llm.NewDeepSeekClient(apiKey, cfg.Model).WithTimeout(timeout)
		if cfg.BaseURL != "" {
			client.WithBaseURL(cfg.BaseURL)
		}
		return client, nil
	default:
		client := llm.NewOpenAIClient(apiKey, cfg.Model).WithTimeout(timeout)
		if cfg.BaseURL != "" {
			client.WithBaseURL(cfg.BaseURL)
		}
		return client, nil
	}
}

// runServer runs the application as an API server
func runServer(manager *session.Manager, flowStore *store.FileStore, archive *store.SQLiteStore, addr string) {
	server := api.NewServer(addr, manager).WithFlowStore(flowStore)
	if archive != nil {
		server.WithArchive(archive)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// runQuery runs a single bot description to completion and exits
func runQuery(ctx context.Context, manager *session.Manager, query string) {
	sess := manager.Create()
	defer manager.Delete(sess.ID)

	result, err := manager.Chat(ctx, sess.ID, query)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Println(result.Reply)

	if result.Status == agent.StatusReady {
		data, err := json.MarshalIndent(result.Flow, "", "  ")
		if err == nil {
			fmt.Println(string(data))
		}
	} else if result.Status == agent.StatusFailed {
		os.Exit(1)
	}
}

// runInteractive runs the builder REPL against a local session
func runInteractive(ctx context.Context, manager *session.Manager, flowStore *store.FileStore) {
	banner := color.New(color.FgCyan, color.Bold)
	info := color.New(color.Faint)
	botColor := color.New(color.FgCyan)
	userColor := color.New(color.FgGreen, color.Bold)
	successColor := color.New(color.FgGreen, color.Bold)
	errorColor := color.New(color.FgRed, color.Bold)

	banner.Println("Botforge Flow Builder")
	info.Println("Describe the bot you want; I'll turn it into a validated flow.")
	info.Println("Commands: show | save | reset | exit")
	fmt.Println()

	sess := manager.Create()
	scanner := bufio.NewScanner(os.Stdin)

	for {
		userColor.Print("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit":
			info.Println("Goodbye!")
			return

		case "show":
			flow := sess.Flow()
			if flow == nil {
				errorColor.Println("No flow generated yet.")
				continue
			}
			data, _ := json.MarshalIndent(flow, "", "  ")
			fmt.Println(string(data))
			continue

		case "save":
			flow := sess.Flow()
			if flow == nil {
				errorColor.Println("No flow generated yet.")
				continue
			}
			path, err := flowStore.SaveFlow(flow, "")
			if err != nil {
				errorColor.Printf("Failed to save flow: %v\n", err)
				continue
			}
			successColor.Printf("Flow saved: %s\n", path)
			continue

		case "reset":
			sess.Reset()
			info.Println("Conversation reset.")
			continue
		}

		result, err := sess.Chat(ctx, input)
		if err != nil {
			errorColor.Printf("Error: %v\n", err)
			continue
		}

		fmt.Println()
		botColor.Print("Botforge: ")
		fmt.Println(result.Reply)

		switch result.Status {
		case agent.StatusReady:
			successColor.Println("Flow is ready. Type 'show' to inspect it or 'save' to write it to disk.")
		case agent.StatusFailed:
			errorColor.Println("Flow generation failed:")
			for _, defect := range result.Defects {
				errorColor.Printf("  - %s\n", defect)
			}
		}
		fmt.Println()
	}
}

// runClient runs the application as an API client
func runClient(serverURL string, interactive bool, query string) {
	client := api.NewClient(serverURL)

	if query != "" {
		runQueryClient(client, query)
		return
	}
	if !interactive {
		fmt.Println("Please provide a query with -query flag or use -interactive mode")
		return
	}

	runInteractiveClient(client)
}

// runQueryClient runs a single one-shot generation against the server
func runQueryClient(client *api.Client, query string) {
	response, err := client.Generate(query)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	fmt.Println(response.Reply)
	if response.Flow != nil {
		data, _ := json.MarshalIndent(response.Flow, "", "  ")
		fmt.Println(string(data))
	}
}

// runInteractiveClient runs the builder REPL against a remote server
func runInteractiveClient(client *api.Client) {
	info := color.New(color.Faint)
	botColor := color.New(color.FgCyan)
	userColor := color.New(color.FgGreen, color.Bold)
	successColor := color.New(color.FgGreen, color.Bold)
	errorColor := color.New(color.FgRed, color.Bold)

	sessionID, err := client.CreateSession()
	if err != nil {
		log.Fatalf("Failed to create session: %v", err)
	}
	defer client.DeleteSession(sessionID)

	info.Printf("Session %s created. Commands: show | save | reset | exit\n\n", sessionID)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		userColor.Print("You: ")
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		switch strings.ToLower(input) {
		case "exit", "quit":
			info.Println("Goodbye!")
			return

		case "show":
			flow, err := client.GetFlow(sessionID)
			if err != nil {
				errorColor.Printf("Error: %v\n", err)
				continue
			}
			data, _ := json.MarshalIndent(flow, "", "  ")
			fmt.Println(string(data))
			continue

		case "save":
			response, err := client.SaveFlow(sessionID, "")
			if err != nil {
				errorColor.Printf("Error: %v\n", err)
				continue
			}
			successColor.Printf("Flow saved: %s\n", response.SavedPath)
			continue

		case "reset":
			if err := client.ResetSession(sessionID); err != nil {
				errorColor.Printf("Error: %v\n", err)
				continue
			}
			info.Println("Conversation reset.")
			continue
		}

		response, err := client.Chat(sessionID, input)
		if err != nil {
			errorColor.Printf("Error: %v\n", err)
			continue
		}

		fmt.Println()
		botColor.Print("Botforge: ")
		fmt.Println(response.Reply)

		switch response.Status {
		case agent.StatusReady:
			successColor.Println("Flow is ready. Type 'show' to inspect it or 'save' to write it to disk.")
		case agent.StatusFailed:
			errorColor.Println("Flow generation failed:")
			for _, defect := range response.Defects {
				errorColor.Printf("  - %s\n", defect)
			}
		}
		fmt.Println()
	}
}
