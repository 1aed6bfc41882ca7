package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"appkeep/internal/app"
	"appkeep/internal/config"
	"appkeep/internal/encryption"
	"appkeep/internal/keep"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates a KeepApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Backup", "AddApplication").
func newApp(operation string) (*app.KeepApp, error) {
	cfg, _, err := readConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewKeepApp(cfg, operation, app.Options{})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

func readConfig() (*config.Config, string, error) {
	defaults := app.GetDefaults()
	cfg, err := config.ReadFromFile(defaults.ConfigPath)
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults.ConfigPath, nil
}

var rootCmd = &cobra.Command{
	Use:          "appkeep",
	Short:        "Back up and restore installed applications",
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
		defaults := app.GetDefaults()
		hostID := uuid.New().String()
		cfg := config.NewConfig(hostID, defaults.BaseDir)

		if err := config.Init(defaults.ConfigPath, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults.ConfigPath)
		fmt.Printf("Host ID:     %s\n", hostID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Backup Dir:  %s\n", cfg.Vault.BackupDir)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := readConfig()
		if err != nil {
			return err
		}

		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Host ID:     %s\n", cfg.HostID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Backup Dir:  %s\n", cfg.Vault.BackupDir)
		fmt.Printf("Staging:     %s %s\n", cfg.Staging.Type, cfg.Staging.StagingDir)
		fmt.Printf("Shell:       %s (root required: %v)\n", cfg.Shell.Type, cfg.Shell.RequireRoot)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		return nil
	},
}

var configKeygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Create the age-protected archive passphrase file",
	RunE: func(cmd *cobra.Command, args []string) error {
		fromFixed, _ := cmd.Flags().GetBool("from-fixed")

		cfg, _, err := readConfig()
		if err != nil {
			return err
		}
		if cfg.Encryption.KeyPath == "" {
			return fmt.Errorf("encryption.key_path is not set")
		}

		operator, err := encryption.TerminalPrompt("Operator passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := encryption.TerminalPrompt("Repeat passphrase: ")
		if err != nil {
			return err
		}
		if operator != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		container := ""
		if fromFixed {
			// Keeps archives written with the fixed passphrase readable.
			container = encryption.NewFixedPassphrase(cfg.Encryption.Passphrase).Value()
		}

		key := encryption.NewAgeKeyFile(cfg.Encryption, nil)
		if err := key.Setup(operator, container); err != nil {
			return fmt.Errorf("creating key file: %w", err)
		}

		fmt.Printf("Key file written to %s\n", cfg.Encryption.KeyPath)
		if cfg.Encryption.Type != "age" {
			fmt.Println(`Set type = "age" in the [encryption] section to use it.`)
		}
		return nil
	},
}

// app command
var appCmd = &cobra.Command{
	Use:   "app",
	Short: "Manage the application catalog",
}

var appAddCmd = &cobra.Command{
	Use:   "add PACKAGE_ID",
	Short: "Register an installed application",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		name, _ := flags.GetString("name")
		version, _ := flags.GetString("version")
		dataDir, _ := flags.GetString("data-dir")
		packageDir, _ := flags.GetString("package-dir")
		icon, _ := flags.GetString("icon")
		favorite, _ := flags.GetBool("favorite")

		id := args[0]
		if name == "" || name == id {
			return fmt.Errorf("--name is required and must differ from the package id")
		}
		if dataDir == "" {
			dataDir = filepath.Join("/data/data", id)
		}
		if packageDir == "" {
			return fmt.Errorf("--package-dir is required")
		}

		a, err := newApp("AddApplication")
		if err != nil {
			return err
		}
		defer a.Close()

		err = a.AddApplication(&keep.Application{
			PackageID:   id,
			Name:        name,
			VersionName: version,
			DataDir:     dataDir,
			PackageDir:  packageDir,
			Icon:        icon,
			IsFavorite:  favorite,
		})
		if err != nil {
			return fmt.Errorf("registering application: %w", err)
		}

		fmt.Printf("Registered %s (%s %s)\n", id, name, version)
		return nil
	},
}

var appListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered applications",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListApplications")
		if err != nil {
			return err
		}
		defer a.Close()

		apps, err := a.ListApplications()
		if err != nil {
			return err
		}
		if len(apps) == 0 {
			fmt.Println("No applications registered.")
			return nil
		}

		for _, ap := range apps {
			flags := []byte("---")
			if ap.IsFavorite {
				flags[0] = 'F'
			}
			if ap.IsLocal {
				flags[1] = 'L'
			}
			if ap.IsCloud {
				flags[2] = 'C'
			}
			fmt.Printf("%s  %-40s  %-24s  %s\n", flags, ap.PackageID, ap.Name, ap.VersionName)
		}
		return nil
	},
}

var appReconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Refresh local flags from the backup directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Reconcile")
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.Reconcile()
		if err != nil {
			return fmt.Errorf("reconciling: %w", err)
		}
		fmt.Printf("Updated %d application(s)\n", n)
		return nil
	},
}

// backup command
var backupCmd = &cobra.Command{
	Use:   "backup PACKAGE_ID...",
	Short: "Back up applications",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Backup")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		outcomes, err := a.Backup(ctx, args)
		return report("Backed up", outcomes, err)
	},
}

// restore command
var restoreCmd = &cobra.Command{
	Use:   "restore PACKAGE_ID...",
	Short: "Restore applications from their newest archive set",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Restore")
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		outcomes, err := a.Restore(ctx, args)
		return report("Restored", outcomes, err)
	},
}

// report prints one line per application and fails the command when any
// application failed.
func report(verb string, outcomes []keep.Outcome, batchErr error) error {
	failed := 0
	for _, o := range outcomes {
		if o.OK() {
			fmt.Printf("ok      %s\n", o.PackageID)
			continue
		}
		failed++
		stage, cause := "-", o.Err
		var se *keep.StageError
		if errors.As(o.Err, &se) {
			stage, cause = se.Stage, se.Err
		}
		fmt.Printf("FAILED  %s  [%s]  %v\n", o.PackageID, stage, cause)
	}
	if batchErr != nil {
		return fmt.Errorf("batch aborted: %w", batchErr)
	}
	fmt.Printf("%s %d of %d application(s)\n", verb, len(outcomes)-failed, len(outcomes))
	if failed > 0 {
		return fmt.Errorf("%d application(s) failed", failed)
	}
	return nil
}

// list command
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List archive sets in the backup directory",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("ListArchives")
		if err != nil {
			return err
		}
		defer a.Close()

		sets, err := a.ListArchives()
		if err != nil {
			return err
		}
		if len(sets) == 0 {
			fmt.Printf("No archive sets in %s.\n", a.BackupRoot())
			return nil
		}

		for _, set := range sets {
			sc := set.Sidecar
			fmt.Printf("%-32s  %-40s  %8s  %s\n",
				filepath.Base(set.Dir),
				sc.App.PackageID,
				humanize.Bytes(uint64(dirSize(set.Dir))),
				humanize.Time(sc.BackedUpAt),
			)
		}
		return nil
	},
}

func dirSize(dir string) int64 {
	var total int64
	filepath.WalkDir(dir, func(_ string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if info, err := d.Info(); err == nil {
			total += info.Size()
		}
		return nil
	})
	return total
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		verbose, _ := cmd.Flags().GetBool("verbose")

		a, err := newApp("GetHistory")
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
			duration := ""
			if op.FinishedAt.Valid {
				d := op.FinishedAt.Time.Sub(op.StartedAt)
				duration = d.Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-15s  %s  %-8s  %-10s  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Format("2006-01-02 15:04:05"),
				op.Status,
				duration,
				op.Parameters,
			)

			if !verbose {
				continue
			}
			outcomes, err := a.GetOutcomes(op.ID)
			if err != nil {
				return err
			}
			for _, o := range outcomes {
				if o.Error == "" {
					fmt.Printf("      ok      %s\n", o.PackageID)
				} else {
					fmt.Printf("      FAILED  %s  [%s]  %s\n", o.PackageID, o.Stage, strings.TrimSpace(o.Error))
				}
			}
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configKeygenCmd)
	configKeygenCmd.Flags().Bool("from-fixed", false, "Protect the fixed passphrase instead of generating a new one")

	// app subcommands
	appCmd.AddCommand(appAddCmd)
	appAddCmd.Flags().String("name", "", "Display name, distinct from the package id")
	appAddCmd.MarkFlagRequired("name")
	appAddCmd.Flags().String("version", "", "Version name")
	appAddCmd.Flags().String("data-dir", "", "Private data directory (default: /data/data/PACKAGE_ID)")
	appAddCmd.Flags().String("package-dir", "", "Directory holding the installed package files")
	appAddCmd.Flags().String("icon", "", "Thumbnail image path")
	appAddCmd.Flags().Bool("favorite", false, "Mark as favorite")
	appCmd.AddCommand(appListCmd)
	appCmd.AddCommand(appReconcileCmd)

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(appCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	historyCmd.Flags().BoolP("verbose", "v", false, "Show per-application outcomes")
}
