package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"okm-go/internal/app"
	"okm-go/internal/config"
	"okm-go/internal/impexp"
	"okm-go/internal/okm"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and creates an OkmApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "import", "check").
func newApp(operation string) (*app.OkmApp, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewOkmApp(cfg, operation, verbose)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// readPassphrase prompts on stderr and reads a line from the terminal
// without echoing it.
func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pw), nil
}

// unlock asks for the passphrase when stored content is encrypted.
func unlock(a *app.OkmApp) error {
	if !a.Encrypted() {
		return nil
	}
	pw, err := readPassphrase("Passphrase: ")
	if err != nil {
		return err
	}
	return a.Unlock(pw)
}

var rootCmd = &cobra.Command{
	Use:          "okm",
	Short:        "Document repository import, export and consistency check",
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

		instanceID := uuid.New().String()
		cfg := config.NewConfig(instanceID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Instance ID: %s\n", instanceID)
		fmt.Printf("Base Dir:    %s\n", defaults["base_dir"])
		fmt.Println("Add a [[vaults]] entry before running import.")
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
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		printConfig(cfg)
		return nil
	},
}

var configKeysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}

		pw, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if pw != confirm {
			return errors.New("passphrases do not match")
		}

		if err := app.SetupEncryption(cfg, pw); err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		fmt.Printf("Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Printf("Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		return nil
	},
}

// import command
var importCmd = &cobra.Command{
	Use:   "import SOURCE [DEST]",
	Short: "Import a directory tree into the repository",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts impexp.ImportOptions
		opts.UseMetadata, _ = cmd.Flags().GetBool("metadata")
		opts.RestoreHistory, _ = cmd.Flags().GetBool("history")
		opts.RestoreUUID, _ = cmd.Flags().GetBool("uuid")
		html, _ := cmd.Flags().GetBool("html")

		dest := okm.RootPath
		if len(args) > 1 {
			dest = args[1]
		}

		a, err := newApp("import")
		if err != nil {
			return err
		}
		defer a.Close()

		start := time.Now()
		stats, err := a.Import(cmd.Context(), args[0], dest, opts, os.Stdout, html)
		printSummary("Import", stats, time.Since(start))
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}
		return nil
	},
}

// export command
var exportCmd = &cobra.Command{
	Use:   "export REPO_PATH DEST",
	Short: "Export a repository subtree to a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts impexp.ExportOptions
		opts.Metadata, _ = cmd.Flags().GetBool("metadata")
		opts.History, _ = cmd.Flags().GetBool("history")
		html, _ := cmd.Flags().GetBool("html")

		a, err := newApp("export")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}

		start := time.Now()
		stats, err := a.Export(cmd.Context(), args[0], args[1], opts, os.Stdout, html)
		printSummary("Export", stats, time.Since(start))
		if err != nil {
			return fmt.Errorf("export failed: %w", err)
		}
		return nil
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check [REPO_PATH]",
	Short: "Read back the content of every node",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		versions, _ := cmd.Flags().GetBool("versions")
		html, _ := cmd.Flags().GetBool("html")

		base := okm.RootPath
		if len(args) > 0 {
			base = args[0]
		}

		a, err := newApp("check")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := unlock(a); err != nil {
			return err
		}

		start := time.Now()
		stats, err := a.Check(cmd.Context(), base, versions, os.Stdout, html)
		printSummary("Check", stats, time.Since(start))
		if err != nil {
			return fmt.Errorf("check failed: %w", err)
		}
		return nil
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}
		for _, op := range ops {
			printOperation(op)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Copy every log record to stderr")

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeysCmd)
	rootCmd.AddCommand(configCmd)

	importCmd.Flags().Bool("metadata", false, "Apply sidecar metadata files")
	importCmd.Flags().Bool("history", false, "Restore version history files")
	importCmd.Flags().Bool("uuid", false, "Keep the UUIDs recorded in metadata")
	importCmd.Flags().Bool("html", false, "Write progress as HTML table rows")
	rootCmd.AddCommand(importCmd)

	exportCmd.Flags().Bool("metadata", false, "Write sidecar metadata files")
	exportCmd.Flags().Bool("history", false, "Write every document version")
	exportCmd.Flags().Bool("html", false, "Write progress as HTML table rows")
	rootCmd.AddCommand(exportCmd)

	checkCmd.Flags().Bool("versions", false, "Read every version, not just the current one")
	checkCmd.Flags().Bool("html", false, "Write progress as HTML table rows")
	rootCmd.AddCommand(checkCmd)

	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(historyCmd)
}
