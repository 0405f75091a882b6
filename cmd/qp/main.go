package main

import (
	"encoding/json"
	"fmt"
	"os"

	"qp-go/internal/app"
	"qp-go/internal/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a QPApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "RunArchiver", "Open").
func newApp(operation string) (*app.QPApp, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewQPApp(cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

var rootCmd = &cobra.Command{
	Use:   "qp",
	Short: "Query-operation persistence and archival",
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
		fmt.Printf("Archive Dir: %s\n", cfg.Archive.Dir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
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

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Log Dir:           %s\n", cfg.LogDir)
		fmt.Printf("Archive Dir:       %s\n", cfg.Archive.Dir)
		fmt.Printf("Archive Row Limit: %d\n", cfg.Archive.RowsLimit)
		fmt.Printf("KVStore:           %s\n", cfg.KVStore.Type)
		fmt.Printf("TTL Days:          %d (anonymous: %d)\n",
			cfg.Persistence.TTLDays, cfg.Persistence.AnonymousTTLDays)
		return nil
	},
}

// archive command
var archiveCmd = &cobra.Command{
	Use:   "archive",
	Short: "Manage cold-tier archival",
}

var archiveRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one archival batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		batch, _ := cmd.Flags().GetInt("batch")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		a, err := newApp("RunArchiver")
		if err != nil {
			return err
		}
		defer a.Close()

		rep, err := a.RunArchiver(cmd.Context(), batch, dryRun)
		if err != nil {
			return fmt.Errorf("archival failed: %w", err)
		}

		mode := ""
		if rep.DryRun {
			mode = " (dry run)"
		}
		fmt.Printf("Processed %d record(s)%s, %d still queued\n", rep.NumProcessed, mode, rep.QueueSize)
		return nil
	},
}

var archiveStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "View queue size and archive files",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ArchiveStatus")
		if err != nil {
			return err
		}
		defer a.Close()

		queued, err := a.QueueLen()
		if err != nil {
			return fmt.Errorf("reading queue size: %w", err)
		}
		fmt.Printf("Queued for archival: %d\n", queued)

		files := a.ArchiveFiles()
		if len(files) == 0 {
			fmt.Println("No archive files.")
			return nil
		}
		for _, f := range files {
			marker := " "
			if f.Writable {
				marker = "*"
			}
			fmt.Printf("%s %s  %d row(s)\n", marker, f.Path, f.Rows)
		}
		return nil
	},
}

// open command
var openCmd = &cobra.Command{
	Use:   "open ID",
	Short: "Load a record by id",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Open")
		if err != nil {
			return err
		}
		defer a.Close()

		rec, err := a.Open(args[0])
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding record: %w", err)
		}
		fmt.Println(string(out))
		return nil
	},
}

// delete command
var deleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Delete a record from both tiers (data retention)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt("user")

		a, err := newApp("Delete")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Delete(userID, args[0]); err != nil {
			return err
		}

		fmt.Printf("Deleted record %s\n", args[0])
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// archive subcommands
	archiveCmd.AddCommand(archiveRunCmd)
	archiveRunCmd.Flags().IntP("batch", "n", 50, "Maximum number of records to process")
	archiveRunCmd.Flags().Bool("dry-run", false, "Report migration volume without writing")
	archiveCmd.AddCommand(archiveStatusCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(openCmd)
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().Int("user", 0, "Acting user id (must own the record)")
}
