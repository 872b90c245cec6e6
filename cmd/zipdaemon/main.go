package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"zipdaemon/internal/app"
	"zipdaemon/internal/config"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config named by --config, or the default location.
// A missing file yields the defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}

	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = defaults["config_path"]
	}

	cfg, err := config.LoadOrDefault(path, defaults["base_dir"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, path, nil
}

// applyScanFlags overlays the scan flags given on the command line onto cfg.
func applyScanFlags(cmd *cobra.Command, args []string, cfg *config.Config) {
	flags := cmd.Flags()
	if len(args) > 0 {
		cfg.Root = args[0]
	}
	if flags.Changed("trigger") {
		cfg.Scan.Trigger, _ = flags.GetString("trigger")
	}
	if flags.Changed("under") {
		cfg.Scan.Depth, _ = flags.GetInt("under")
	}
	if flags.Changed("marker") {
		cfg.Scan.Marker, _ = flags.GetString("marker")
	}
	if noRename, _ := flags.GetBool("no-rename"); noRename {
		cfg.Scan.Rename = false
	}
	if flat, _ := flags.GetBool("flat"); flat {
		cfg.Scan.Depth = 1
		cfg.Scan.Rename = false
	}
	if flags.Changed("logfile") {
		cfg.LogFile, _ = flags.GetString("logfile")
	}
}

// newApp builds the watcher for watch/once. The caller must defer a.Close().
func newApp(ctx context.Context, cmd *cobra.Command, args []string, debug bool) (*app.App, error) {
	cfg, _, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	applyScanFlags(cmd, args, cfg)

	a, err := app.New(ctx, cfg, app.Options{Debug: debug, Console: os.Stderr})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

var rootCmd = &cobra.Command{
	Use:          "zipdaemon",
	Short:        "Zip directories that are marked as ready",
	SilenceUsage: true,
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch [DIRECTORY]",
	Short: "Poll DIRECTORY and archive ready candidates until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, cmd, args, debug)
		if err != nil {
			return err
		}
		defer a.Close()

		if debug {
			return a.Debug(ctx, cmd.OutOrStdout())
		}

		if err := a.Watch(ctx); err != nil {
			return err
		}
		if ctx.Err() != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Received Ctrl-C, shutting down...")
		}
		return nil
	},
}

// once command
var onceCmd = &cobra.Command{
	Use:   "once [DIRECTORY]",
	Short: "Run a single pass over DIRECTORY",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		debug, _ := cmd.Flags().GetBool("debug")

		ctx, stop := signalContext()
		defer stop()

		a, err := newApp(ctx, cmd, args, debug)
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Once(ctx)
		if err != nil {
			return fmt.Errorf("pass failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Candidates: %d  Ready: %d  Skipped: %d  Archived: %d\n",
			res.Candidates, res.Ready, res.Skipped, len(res.Archived))
		for _, rec := range res.Archived {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s (%d files, %s)\n",
				rec.ArchivePath, rec.FileCount, humanize.Bytes(uint64(rec.ArchiveBytes)))
		}
		return nil
	},
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
		path, _ := cmd.Flags().GetString("config")
		if path == "" {
			path = defaults["config_path"]
		}

		cfg := config.NewConfig(defaults["base_dir"])
		if len(args) > 0 {
			cfg.Root = args[0]
		}
		if err := config.Init(path, cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration initialized at %s\n", path)
		fmt.Fprintf(cmd.OutOrStdout(), "Base Dir: %s\n", cfg.BaseDir)
		return nil
	},
	Args: cobra.MaximumNArgs(1),
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Configuration from %s:\n\n", path)
		m := &config.Manager{}
		return m.Write(cmd.OutOrStdout(), cfg)
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List archived directories",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ledger, err := app.OpenLedger(cfg)
		if err != nil {
			return err
		}
		defer ledger.Close()

		recs, err := ledger.ListArchives(limit)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No archives recorded.")
			return nil
		}

		rows := make([][]string, 0, len(recs))
		for _, r := range recs {
			rows = append(rows, []string{
				r.CreatedAt.Local().Format(time.DateTime),
				r.ArchivePath,
				strconv.Itoa(r.FileCount),
				humanize.Bytes(uint64(r.SourceBytes)),
				humanize.Bytes(uint64(r.ArchiveBytes)),
				r.VaultKey,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"Created", "Archive", "Files", "Source", "Zip", "Vault Key"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight, alignLeft},
		))
		return nil
	},
}

// passes command
var passesCmd = &cobra.Command{
	Use:   "passes",
	Short: "List recent passes",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ledger, err := app.OpenLedger(cfg)
		if err != nil {
			return err
		}
		defer ledger.Close()

		passes, err := ledger.ListPasses(limit)
		if err != nil {
			return err
		}
		if len(passes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No passes recorded.")
			return nil
		}

		rows := make([][]string, 0, len(passes))
		for _, p := range passes {
			duration := ""
			if p.FinishedAt.Valid {
				duration = p.FinishedAt.Time.Sub(p.StartedAt).Truncate(time.Millisecond).String()
			}
			rows = append(rows, []string{
				strconv.FormatInt(p.ID, 10),
				p.StartedAt.Local().Format(time.DateTime),
				p.Status,
				duration,
				strconv.Itoa(p.Candidates),
				strconv.Itoa(p.Ready),
				strconv.Itoa(p.Archived),
				p.Error,
			})
		}
		fmt.Fprintln(cmd.OutOrStdout(), renderTable(
			[]string{"#", "Started", "Status", "Duration", "Candidates", "Ready", "Archived", "Error"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignRight, alignRight, alignRight, alignLeft},
		))
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the age key pair used to encrypt vault copies",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		passphrase, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if passphrase != confirm {
			return errors.New("passphrases do not match")
		}

		if err := app.SetupKeys(cfg, passphrase); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Public key:  %s\n", cfg.Encryption.PublicKeyPath)
		fmt.Fprintf(cmd.OutOrStdout(), "Private key: %s\n", cfg.Encryption.PrivateKeyPath)
		fmt.Fprintln(cmd.OutOrStdout(), "Set [encryption] type = \"age\" in the config to encrypt vault copies.")
		return nil
	},
}

// vault command
var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Access archives stored in the vault",
}

var vaultGetCmd = &cobra.Command{
	Use:   "get NAME OUT",
	Short: "Fetch archive NAME from the vault into OUT",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, outPath := args[0], args[1]

		cfg, _, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		var passphrase string
		if cfg.Encryption.Type == "age" {
			passphrase, err = readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
		}

		out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		ctx, stop := signalContext()
		defer stop()
		if err := app.FetchArchive(ctx, cfg, key, passphrase, out); err != nil {
			out.Close()
			os.Remove(outPath)
			return err
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("closing output: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outPath)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "zipdaemon %s\n", version)
	},
}

func readPassphrase(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func addScanFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("trigger", "t", "", "Trigger file name marking a directory as ready")
	cmd.Flags().IntP("under", "u", 0, "Depth of candidate directories below DIRECTORY")
	cmd.Flags().StringP("marker", "m", "", "Suffix appended to archived directories")
	cmd.Flags().Bool("no-rename", false, "Keep the trigger and the directory name after archiving")
	cmd.Flags().Bool("flat", false, "Candidates are direct children and are never renamed")
	cmd.Flags().StringP("logfile", "l", "", "Log file path")
	cmd.Flags().BoolP("debug", "d", false, "Verbose logging")
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file (default $ZIPDAEMON_CONFIG_PATH or ~/.config/zipdaemon.toml)")

	addScanFlags(watchCmd)
	addScanFlags(onceCmd)
	watchCmd.Flags().Lookup("debug").Usage = "Run a single verbose pass and print the log"

	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	keysCmd.AddCommand(keysInitCmd)
	vaultCmd.AddCommand(vaultGetCmd)

	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(onceCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of archives to show")
	rootCmd.AddCommand(passesCmd)
	passesCmd.Flags().IntP("limit", "n", 20, "Maximum number of passes to show")
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(vaultCmd)
	rootCmd.AddCommand(versionCmd)
}
