package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dreamup/checkin-agent/internal/app"
	"github.com/dreamup/checkin-agent/internal/checkin"
	"github.com/dreamup/checkin-agent/internal/db"
)

var (
	// Run command flags
	runUsers  []string
	runUpload bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Check in every configured account",
	Long: `Log into each account, solve the captcha when it is shown, click the
daily earn link and read the point balance. Accounts come from --user or the
users config key, written as name#password (several may be joined with &).`,
	RunE: runCheckin,
}

func init() {
	runCmd.Flags().StringArrayVarP(&runUsers, "user", "u", nil, "Account as name#password (repeatable, overrides config)")
	runCmd.Flags().Bool("headless", true, "Run browser in headless mode")
	runCmd.Flags().String("detector", "onnx", "Region detector: onnx or openai")
	runCmd.Flags().String("model", "", "Path to the ONNX detector model")
	runCmd.Flags().String("base-url", checkin.DefaultBaseURL, "Site base URL")
	runCmd.Flags().Int("max-tries", 5, "Captcha attempts per challenge")
	runCmd.Flags().BoolVar(&runUpload, "upload", false, "Upload the report to the configured S3 bucket")
}

func runCheckin(cmd *cobra.Command, args []string) error {
	if err := cfg.ResolveSecret(cmd.Context()); err != nil {
		return err
	}
	users := cfg.Users
	if len(runUsers) > 0 {
		users = runUsers
	}
	accounts, err := checkin.ParseAccounts(users)
	if err != nil {
		return err
	}

	fmt.Printf("🚀 Check-in Agent v%s\n", version)
	fmt.Printf("📋 Configuration:\n")
	fmt.Printf("   Accounts: %d\n", len(accounts))
	fmt.Printf("   Site: %s\n", cfg.BaseURL)
	fmt.Printf("   Detector: %s\n", cfg.Detector)
	fmt.Printf("   Headless Mode: %v\n", cfg.Headless)
	fmt.Printf("   Work Directory: %s\n", cfg.WorkDir)
	fmt.Println()

	if err := EnsureDir(cfg.WorkDir); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.New(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open run database: %w", err)
	}
	defer store.Close()

	a, err := app.New(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer a.Close()

	out, err := a.Execute(ctx, app.Job{
		Accounts: accounts,
		Metadata: map[string]string{"trigger": "cli"},
		Upload:   runUpload,
	})
	if err != nil {
		return err
	}

	fmt.Println()
	for _, r := range out.Report.Results {
		printResult(r)
	}
	fmt.Printf("\n📁 Report saved to %s\n", out.ReportPath)
	if out.ReportURL != "" {
		fmt.Printf("☁️  Uploaded to %s\n", out.ReportURL)
	}

	if out.Report.Summary.Succeeded != len(accounts) {
		return fmt.Errorf("%d of %d accounts failed", len(accounts)-out.Report.Summary.Succeeded, len(accounts))
	}
	return nil
}

func printResult(r checkin.Result) {
	if r.Succeeded() {
		fmt.Printf("✅ %s: %d points (about %.2f yuan), %d captcha attempts\n",
			r.Username, r.Points, r.Value(), r.CaptchaAttempts)
		if r.Message != "" {
			fmt.Printf("   ⚠️  %s\n", r.Message)
		}
		return
	}
	fmt.Printf("❌ %s: %s\n   %s\n", r.Username, r.Status, r.Message)
	if r.Screenshot != "" {
		fmt.Printf("   📸 %s\n", r.Screenshot)
	}
}
