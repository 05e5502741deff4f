package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/meridian-geo/meridian/internal/storage"
	"github.com/meridian-geo/meridian/internal/storage/postgres"
)

var (
	apiKeyAllowFallback bool
	apiKeyMaxReq        int
	apiKeyOutput        string
)

// apiKeyCmd represents the apikey command group
var apiKeyCmd = &cobra.Command{
	Use:   "apikey",
	Short: "Manage API keys",
	Long: `Manage API keys for the positioning API.

Every query must carry a key. Keys control access to the fallback
provider and carry the daily request quota.

Examples:
  # Create a new API key
  meridian apikey create my-app

  # List all API keys
  meridian apikey list

  # Show one key
  meridian apikey show 01HQXW5E8YDM2R3TPWVKJ60SFA`,
}

// apiKeyCreateCmd creates a new API key
var apiKeyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a new API key",
	Long: `Create a new API key for the positioning API.

The key value is minted server-side and printed once; it is stored
as-is, so it can be shown again with "apikey show".

Examples:
  # Create a key with defaults (no fallback access, unlimited requests)
  meridian apikey create my-app

  # Create a key allowed to use the fallback provider, capped per day
  meridian apikey create my-app --allow-fallback --maxreq 100000`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return createAPIKey(args[0])
	},
}

// apiKeyListCmd lists all API keys
var apiKeyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all API keys",
	Long: `List all API keys with their permissions and quotas.

Examples:
  # List all keys as a table
  meridian apikey list

  # List all keys as JSON
  meridian apikey list -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAPIKeys()
	},
}

// apiKeyShowCmd shows a single API key
var apiKeyShowCmd = &cobra.Command{
	Use:   "show <key>",
	Short: "Show one API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showAPIKey(args[0])
	},
}

func init() {
	// Add apikey command group
	rootCmd.AddCommand(apiKeyCmd)

	// Add subcommands
	apiKeyCmd.AddCommand(apiKeyCreateCmd)
	apiKeyCmd.AddCommand(apiKeyListCmd)
	apiKeyCmd.AddCommand(apiKeyShowCmd)

	// Flags
	apiKeyCreateCmd.Flags().BoolVar(&apiKeyAllowFallback, "allow-fallback", false, "allow queries under this key to use the external fallback provider")
	apiKeyCreateCmd.Flags().IntVar(&apiKeyMaxReq, "maxreq", 0, "daily request limit (0 means unlimited)")
	apiKeyCmd.PersistentFlags().StringVarP(&apiKeyOutput, "output", "o", "table", "output format (table, json, yaml)")
}

// displayKey is the CLI rendering of an API key row.
type displayKey struct {
	Key           string `json:"key" yaml:"key"`
	Name          string `json:"name" yaml:"name"`
	AllowFallback bool   `json:"allow_fallback" yaml:"allow_fallback"`
	AllowLocate   bool   `json:"allow_locate" yaml:"allow_locate"`
	AllowRegion   bool   `json:"allow_region" yaml:"allow_region"`
	MaxReq        int    `json:"maxreq" yaml:"maxreq"`
	CreatedAt     string `json:"created_at" yaml:"created_at"`
}

func toDisplayKey(k storage.APIKey) displayKey {
	return displayKey{
		Key:           k.Key,
		Name:          k.Name,
		AllowFallback: k.AllowFallback,
		AllowLocate:   k.AllowLocate,
		AllowRegion:   k.AllowRegion,
		MaxReq:        k.MaxReq,
		CreatedAt:     k.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func createAPIKey(name string) error {
	keys, cleanup, err := openKeyRepository()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	apiKey := storage.APIKey{
		Key:           ulid.Make().String(),
		Name:          name,
		AllowFallback: apiKeyAllowFallback,
		AllowLocate:   true,
		AllowRegion:   true,
		MaxReq:        apiKeyMaxReq,
		LogLocate:     true,
		LogRegion:     true,
		CreatedAt:     time.Now().UTC(),
	}
	if err := keys.Create(ctx, apiKey); err != nil {
		return err
	}

	if apiKeyOutput != "table" {
		return renderKeys(apiKeyOutput, []displayKey{toDisplayKey(apiKey)})
	}

	fmt.Printf("API key created\n\n")
	fmt.Printf("Name:   %s\n", apiKey.Name)
	fmt.Printf("Key:    %s\n\n", apiKey.Key)
	fmt.Printf("Usage:\n")
	fmt.Printf("  curl -d '{}' 'http://localhost:8000/v1/geolocate?key=%s'\n", apiKey.Key)
	return nil
}

func listAPIKeys() error {
	keys, cleanup, err := openKeyRepository()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	records, err := keys.List(ctx)
	if err != nil {
		return err
	}

	display := make([]displayKey, 0, len(records))
	for _, record := range records {
		display = append(display, toDisplayKey(record))
	}

	if apiKeyOutput != "table" {
		return renderKeys(apiKeyOutput, display)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tNAME\tFALLBACK\tMAXREQ\tCREATED")
	fmt.Fprintln(w, "---\t----\t--------\t------\t-------")
	for _, key := range display {
		maxreq := "unlimited"
		if key.MaxReq > 0 {
			maxreq = fmt.Sprintf("%d", key.MaxReq)
		}
		fmt.Fprintf(w, "%s\t%s\t%t\t%s\t%s\n",
			key.Key, key.Name, key.AllowFallback, maxreq, key.CreatedAt[:10])
	}
	w.Flush()

	if len(display) == 0 {
		fmt.Println("\nNo API keys found. Create one with: meridian apikey create <name>")
	} else {
		fmt.Printf("\nTotal: %d API key(s)\n", len(display))
	}
	return nil
}

func showAPIKey(key string) error {
	keys, cleanup, err := openKeyRepository()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	record, err := keys.Get(ctx, key)
	if err != nil {
		return err
	}

	if apiKeyOutput != "table" {
		return renderKeys(apiKeyOutput, []displayKey{toDisplayKey(record)})
	}

	display := toDisplayKey(record)
	fmt.Printf("Key:            %s\n", display.Key)
	fmt.Printf("Name:           %s\n", display.Name)
	fmt.Printf("Allow fallback: %t\n", display.AllowFallback)
	fmt.Printf("Allow locate:   %t\n", display.AllowLocate)
	fmt.Printf("Allow region:   %t\n", display.AllowRegion)
	if display.MaxReq > 0 {
		fmt.Printf("Daily limit:    %d\n", display.MaxReq)
	} else {
		fmt.Printf("Daily limit:    unlimited\n")
	}
	fmt.Printf("Created:        %s\n", display.CreatedAt)
	return nil
}

func renderKeys(format string, keys []displayKey) error {
	switch format {
	case "json":
		data, err := json.MarshalIndent(keys, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(keys)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
	return nil
}

// openKeyRepository connects to the database named by DATABASE_URL and
// returns the key repository plus a cleanup closing the pool.
func openKeyRepository() (*postgres.KeyRepository, func(), error) {
	dbURL := getDatabaseURL()
	if dbURL == "" {
		return nil, nil, fmt.Errorf("DATABASE_URL not set\n\nTried loading from:\n  - Environment variable DATABASE_URL\n  - .env file in project root\n\nPlease set DATABASE_URL or create a .env file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		pool.Close()
		return nil, nil, err
	}
	return repo.Keys(), pool.Close, nil
}

// getDatabaseURL gets DATABASE_URL from environment or .env files
func getDatabaseURL() string {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL != "" {
		return dbURL
	}

	// Try loading from .env files
	loadEnvFileSimple(".env")
	return os.Getenv("DATABASE_URL")
}

// loadEnvFileSimple loads environment variables from a .env file
// Silently ignores if file doesn't exist
func loadEnvFileSimple(path string) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=VALUE
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Only set if not already in environment
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
}
