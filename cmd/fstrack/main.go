package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"fstrack/internal/app"
	"fstrack/internal/config"
	"fstrack/internal/encryption"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.Load(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an App. The caller must defer a.Close().
// command identifies the CLI command being run (e.g. "import", "serve").
func newApp(ctx context.Context, command string) (*app.App, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.New(ctx, cfg, command)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func parseTreeID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid tree id %q: must be a positive integer", s)
	}
	return id, nil
}

var rootCmd = &cobra.Command{
	Use:          "fstrack",
	Short:        "Track changes to filesystem trees",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:      %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:       %s\n", cfg.LogDir)
		fmt.Printf("Log Level:     %s\n", cfg.LogLevel)
		fmt.Printf("Database:      %s\n", cfg.Database.Type)
		fmt.Printf("Change Policy: %s\n", cfg.Import.ChangePolicy)
		fmt.Printf("Publisher:     %s\n", cfg.Publisher.Type)
		fmt.Printf("Consumer:      %s\n", cfg.ConsumerTransport())
		fmt.Printf("Encryption:    %s\n", cfg.Encryption.Type)
		fmt.Printf("API Listen:    %s\n", cfg.API.Listen)
		return nil
	},
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the age key pair used to seal archived events",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		sealer := encryption.NewAgeSealer(cfg.Encryption)
		if sealer.IsConfigured() {
			return fmt.Errorf("key pair already exists at %s", cfg.Encryption.PublicKeyPath)
		}

		fmt.Print("Passphrase: ")
		pass, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		fmt.Print("Repeat passphrase: ")
		again, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("reading passphrase: %w", err)
		}
		if string(pass) != string(again) {
			return fmt.Errorf("passphrases do not match")
		}
		if len(pass) == 0 {
			return fmt.Errorf("passphrase must not be empty")
		}

		if err := sealer.Setup(string(pass)); err != nil {
			return err
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// migrate command
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if err := app.Migrate(cmd.Context(), cfg); err != nil {
			return err
		}
		fmt.Println("Database is up to date.")
		return nil
	},
}

// tree command
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Manage tracked trees",
}

var treeAddCmd = &cobra.Command{
	Use:   "add ID [PATH]",
	Short: "Track a directory as tree ID",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTreeID(args[0])
		if err != nil {
			return err
		}
		root := "."
		if len(args) > 1 {
			root = args[1]
		}

		a, err := newApp(cmd.Context(), "tree add")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.AddTree(cmd.Context(), id, root); err != nil {
			return fmt.Errorf("tracking directory: %w", err)
		}
		fmt.Printf("Tracking tree %d\n", id)
		return nil
	},
}

var treeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked trees",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "tree list")
		if err != nil {
			return err
		}
		defer a.Close()

		trees, err := a.ListTrees(cmd.Context())
		if err != nil {
			return err
		}
		if len(trees) == 0 {
			fmt.Println("No trees tracked.")
			return nil
		}
		for _, t := range trees {
			fmt.Printf("%-6d  %s  %s\n", t.ID, t.CreatedAt.Format("2006-01-02 15:04:05"), t.RootPath)
		}
		return nil
	},
}

var treeDropCmd = &cobra.Command{
	Use:   "drop ID",
	Short: "Stop tracking a tree and delete its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTreeID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "tree drop")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.DropTree(cmd.Context(), id); err != nil {
			return err
		}
		fmt.Printf("Dropped tree %d\n", id)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import ID",
	Short: "Crawl a tree and record what changed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseTreeID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "import")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.ImportTree(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		if !res.Changed() {
			fmt.Printf("No changes (%d entries)\n", res.EntryCount)
			return nil
		}
		fmt.Printf("Import %s: %d entries, %d new, %d changed, %d deleted\n",
			res.ImportID, res.EntryCount, res.NewCount, res.ChangedCount, res.DeletedCount)
		return nil
	},
}

// recover command
var recoverCmd = &cobra.Command{
	Use:   "recover",
	Short: "Deliver events left in the outbox",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "recover")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Recover(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("Delivered %d event(s)\n", n)
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history ID",
	Short: "View import history of a tree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		id, err := parseTreeID(args[0])
		if err != nil {
			return err
		}

		a, err := newApp(cmd.Context(), "history")
		if err != nil {
			return err
		}
		defer a.Close()

		imports, err := a.History(cmd.Context(), id, limit)
		if err != nil {
			return err
		}
		if len(imports) == 0 {
			fmt.Println("No imports recorded.")
			return nil
		}

		for _, im := range imports {
			duration := ""
			if im.FinishedAt.Valid {
				d := im.FinishedAt.Time.Sub(im.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("%s  %s  %7d entries  +%d ~%d -%d  %s\n",
				im.ID,
				im.StartedAt.Format("2006-01-02 15:04:05"),
				im.EntryCount,
				im.NewCount,
				im.ChangedCount,
				im.DeletedCount,
				duration,
			)
		}
		return nil
	},
}

// long-running commands
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Re-import trees as their files change",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "watch")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Watch(cmd.Context())
	},
}

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Maintain the digest index from delivered events",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "consume")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Consume(cmd.Context())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Watch trees and serve the status API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), "serve")
		if err != nil {
			return err
		}
		defer a.Close()
		return a.Serve(cmd.Context())
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeygenCmd)

	// tree subcommands
	treeCmd.AddCommand(treeAddCmd)
	treeCmd.AddCommand(treeListCmd)
	treeCmd.AddCommand(treeDropCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of imports to show")
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(consumeCmd)
	rootCmd.AddCommand(serveCmd)
}
