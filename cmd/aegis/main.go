package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aegis-gov/aegis/pkg/client"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	daemonURL string
	cfgFile   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "aegis",
	Short: "Aegis governance CLI",
	Long: `aegis is the operator command-line interface for the Aegis governance
daemon.

It inspects the event ledger, runs chain integrity audits, tails the
violation feed, and can drive kernel ticks by hand.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.aegis")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if daemonURL == "" {
			daemonURL = viper.GetString("daemon")
		}
		if daemonURL == "" {
			daemonURL = "http://localhost:8080"
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.aegis/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&daemonURL, "daemon", "", "Aegis daemon URL (default http://localhost:8080)")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(violationsCmd)
	rootCmd.AddCommand(tickCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(versionCmd)
}

func api() *client.Client {
	return client.New(daemonURL)
}

func ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// ── status ───────────────────────────────────────────────────────────────────

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show ledger overview and watchdog state",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctx()
		defer cancel()

		c := api()
		overview, err := c.Overview(ctx)
		if err != nil {
			return err
		}
		state, err := c.Watchdog(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("events:         %d\n", overview.Events)
		fmt.Printf("root:           %s\n", overview.Root)
		fmt.Printf("last checked:   %d\n", state.LastChecked)
		fmt.Printf("check interval: every %d ticks\n", state.CheckInterval)
		if state.HaltRequested {
			fmt.Println("halt:           REQUESTED — scheduling is stopped")
		} else {
			fmt.Println("halt:           not requested")
		}
		return nil
	},
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Walk the full chain and report hash integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctx()
		defer cancel()

		report, err := api().Verify(ctx)
		if err != nil {
			return err
		}
		if report.Valid {
			fmt.Printf("chain OK (%d events verified)\n", report.Checked)
			return nil
		}
		fmt.Printf("chain BROKEN at sequence %d (%d events checked)\n", report.FirstBroken, report.Checked)
		os.Exit(1)
		return nil
	},
}

// ── events ───────────────────────────────────────────────────────────────────

var eventsFrom uint64
var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "List ledger events",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctx()
		defer cancel()

		events, err := api().Events(ctx, eventsFrom, eventsLimit)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "SEQ\tKIND\tTASK\tAGENT\tTIMESTAMP\tHASH")
		for _, e := range events {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s…\n",
				e.Sequence, e.EventType, e.TaskID, e.AgentID,
				e.Timestamp.Format(time.RFC3339), e.Hash[:12],
			)
		}
		return w.Flush()
	},
}

func init() {
	eventsCmd.Flags().Uint64Var(&eventsFrom, "from", 1, "first sequence number to list")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "maximum events to list")
}

// ── violations ───────────────────────────────────────────────────────────────

var violationsLimit int

var violationsCmd = &cobra.Command{
	Use:   "violations",
	Short: "Tail the violation feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := ctx()
		defer cancel()

		records, err := api().Violations(ctx, violationsLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("no violations recorded")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DETECTED\tSEVERITY\tINVARIANT\tTASK\tMESSAGE")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.DetectedAt.Format(time.RFC3339), r.Severity, r.Invariant, r.TaskID, r.Message,
			)
		}
		return w.Flush()
	},
}

func init() {
	violationsCmd.Flags().IntVar(&violationsLimit, "limit", 50, "maximum records to list")
}

// ── tick ─────────────────────────────────────────────────────────────────────

var tickCmd = &cobra.Command{
	Use:   "tick <tick_count>",
	Short: "Drive one kernel tick by hand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tick, err := strconv.ParseUint(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid tick count %q", args[0])
		}

		ctx, cancel := ctx()
		defer cancel()

		result, err := api().KernelTick(ctx, tick)
		if err != nil {
			return err
		}

		for _, v := range result.Violations {
			fmt.Printf("[%s] %s: %s\n", v.Severity, v.Rule, v.Message)
		}
		if result.ShouldHalt {
			fmt.Println("should_halt: TRUE — stop dispatching tasks")
			os.Exit(1)
		}
		fmt.Println("should_halt: false")
		return nil
	},
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditSecret string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run an authenticated full-chain integrity audit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditSecret == "" {
			auditSecret = viper.GetString("admin_secret")
		}
		if auditSecret == "" {
			return fmt.Errorf("admin secret required (--secret or AEGIS_ADMIN_SECRET)")
		}

		ctx, cancel := ctx()
		defer cancel()

		c := api()
		if err := c.Login(ctx, auditSecret); err != nil {
			return err
		}
		report, err := c.Audit(ctx)
		if err != nil {
			return err
		}
		if report.Valid {
			fmt.Printf("audit OK (%d events verified)\n", report.Checked)
			return nil
		}
		fmt.Printf("audit FAILED: chain broken at sequence %d\n", report.FirstBroken)
		os.Exit(1)
		return nil
	},
}

func init() {
	auditCmd.Flags().StringVar(&auditSecret, "secret", "", "admin secret to exchange for an audit token")
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the aegis CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("aegis", version)
	},
}
