package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hostedid/devicereset/internal/app"
	"github.com/hostedid/devicereset/internal/auth"
	"github.com/hostedid/devicereset/internal/config"
	"github.com/hostedid/devicereset/internal/logger"
	"github.com/hostedid/devicereset/internal/model"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "resetctl",
	Short: "Support tooling for device reset requests",
}

var (
	userID    string
	question  string
	options   []string
	answers   []string
	token     string
	fraud     bool
	requestID string
	olderThan time.Duration
)

var enrollCmd = &cobra.Command{
	Use:   "enroll-kba",
	Short: "Set a user's security question and acceptable answers",
	RunE:  runEnroll,
}

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Record a device reset request for a user",
	RunE:  runOpen,
}

var grantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Grant a device reset and print the one-time link",
	RunE:  runGrant,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a granted reset, or report it as fraud with --fraud",
	RunE:  runCancel,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Close granted resets whose token has expired",
	RunE:  runSweep,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Print the audit trail of a reset request",
	RunE:  runHistory,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List a user's devices with their trust and compromise flags",
	RunE:  runDevices,
}

var purgeCmd = &cobra.Command{
	Use:   "purge-audit",
	Short: "Delete audit entries older than --older-than",
	RunE:  runPurge,
}

func init() {
	enrollCmd.Flags().StringVar(&userID, "user", "", "user ID")
	enrollCmd.Flags().StringVar(&question, "question", "", "security question text")
	enrollCmd.Flags().StringSliceVar(&options, "option", nil, "multiple-choice option shown to the user (repeatable)")
	enrollCmd.Flags().StringSliceVar(&answers, "answer", nil, "acceptable answer (repeatable)")
	_ = enrollCmd.MarkFlagRequired("user")
	_ = enrollCmd.MarkFlagRequired("question")
	_ = enrollCmd.MarkFlagRequired("answer")

	openCmd.Flags().StringVar(&userID, "user", "", "user ID")
	_ = openCmd.MarkFlagRequired("user")

	grantCmd.Flags().StringVar(&userID, "user", "", "user ID")
	_ = grantCmd.MarkFlagRequired("user")

	cancelCmd.Flags().StringVar(&token, "token", "", "reset token")
	cancelCmd.Flags().BoolVar(&fraud, "fraud", false, "report the request as fraudulent instead of cancelling it")
	_ = cancelCmd.MarkFlagRequired("token")

	historyCmd.Flags().StringVar(&requestID, "request", "", "reset request ID")
	_ = historyCmd.MarkFlagRequired("request")

	devicesCmd.Flags().StringVar(&userID, "user", "", "user ID")
	_ = devicesCmd.MarkFlagRequired("user")

	purgeCmd.Flags().DurationVar(&olderThan, "older-than", 90*24*time.Hour, "age of the oldest entry to keep")

	rootCmd.AddCommand(enrollCmd, openCmd, grantCmd, cancelCmd, sweepCmd, historyCmd, devicesCmd, purgeCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func withApp(fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log := logger.New(cfg.Log.Level, "text")

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		digests := make([]string, 0, len(answers))
		for _, answer := range answers {
			digest, err := auth.HashSecurityAnswer(answer, a.Answers)
			if err != nil {
				return fmt.Errorf("failed to hash answer: %w", err)
			}
			digests = append(digests, digest)
		}

		profile := &model.KBAProfile{
			UserID:        userID,
			Question:      question,
			Options:       options,
			AnswerDigests: digests,
			UpdatedAt:     time.Now(),
		}
		if err := a.Users.SetKBAProfile(ctx, profile); err != nil {
			return err
		}
		fmt.Printf("Enrolled security question for %s (%d acceptable answers)\n", userID, len(digests))
		return nil
	})
}

func runOpen(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		req, err := a.Resets.OpenRequest(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("Request %s is %s\n", req.ID, req.State)
		return nil
	})
}

func runGrant(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		tok, err := a.Resets.GrantRequest(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Printf("Token: %s\n", tok)
		if link := a.Resets.ResetLink(tok); link != "" {
			fmt.Printf("Link:  %s\n", link)
		}
		return nil
	})
}

func runCancel(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		var (
			closed bool
			err    error
		)
		if fraud {
			closed, err = a.Resets.ReportFraud(ctx, token)
		} else {
			closed, err = a.Resets.CancelRequest(ctx, token)
		}
		if err != nil {
			return err
		}
		if !closed {
			fmt.Println("Token did not resolve to a granted request; nothing changed")
			return nil
		}
		fmt.Println("Request closed")
		return nil
	})
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		n, err := a.Resets.ExpireStale(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Expired %d requests\n", n)
		return nil
	})
}

func runHistory(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		entries, err := a.AuditLogs.ListByResource(ctx, model.AuditResourceResetDevice, requestID)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No audit entries")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-40s %s\n", e.CreatedAt.Format(time.RFC3339), e.Action, formatMetadata(e.Metadata))
		}
		return nil
	})
}

// runDevices shows whether a completed reset or a fraud report reached the device rows
func runDevices(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		devices, err := a.Devices.GetByUserID(ctx, userID)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No devices")
			return nil
		}
		for _, d := range devices {
			compromised := "-"
			if d.CompromisedAt != nil {
				compromised = d.CompromisedAt.Format(time.RFC3339)
			}
			fmt.Printf("%-32s trusted=%-5v session=%-5v compromised=%s last=%s\n",
				d.ID, d.IsTrusted, d.SessionActive, compromised, d.LastActivity.Format(time.RFC3339))
		}
		return nil
	})
}

func runPurge(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		n, err := a.AuditLogs.PurgeBefore(ctx, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		fmt.Printf("Deleted %d audit entries\n", n)
		return nil
	})
}

func formatMetadata(metadata map[string]interface{}) string {
	parts := make([]string, 0, len(metadata))
	for k, v := range metadata {
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}
