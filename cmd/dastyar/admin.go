// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dastyar-team/dastyar/internal/accounts"
	"github.com/dastyar-team/dastyar/internal/delivery"
	"github.com/dastyar-team/dastyar/internal/report"
)

var activationCmd = &cobra.Command{
	Use:       "activation on|off|status",
	Short:     "Switch document retrieval on or off",
	Long:      `While activation is off, batches resolve metadata but retrieve nothing; entries are labelled "not downloaded (disabled)".`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"on", "off", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		switch args[0] {
		case "on", "off":
			if err := accounts.SetActivated(ctx, a.store, args[0] == "on"); err != nil {
				return err
			}
		case "status":
		default:
			return fmt.Errorf("unknown activation command %q (want on, off or status)", args[0])
		}
		on, err := accounts.Activated(ctx, a.store)
		if err != nil {
			return err
		}
		state := "off"
		if on {
			state = "on"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "activation: %s\n", state)
		return nil
	},
}

var linksCmd = &cobra.Command{
	Use:   "links",
	Short: "Manage single-use download links",
}

var linksRedeemCmd = &cobra.Command{
	Use:   "redeem <token>",
	Short: "Redeem a download link and deliver its archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		chatID, _ := cmd.Flags().GetInt64("chat")
		copyTo, _ := cmd.Flags().GetString("out")

		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		link, err := a.links.Redeem(ctx, args[0], userID)
		switch {
		case errors.Is(err, report.ErrTokenUnknown), errors.Is(err, report.ErrTokenExpired),
			errors.Is(err, report.ErrTokenUsed), errors.Is(err, report.ErrTokenOwner):
			fmt.Fprintf(out, "link rejected: %v\n", err)
			return err
		case err != nil:
			return err
		}
		if _, err := os.Stat(link.FilePath); err != nil {
			return fmt.Errorf("archive for link not found on disk: %w", err)
		}

		if copyTo != "" {
			dest := filepath.Join(copyTo, link.Filename)
			if err := copyFile(link.FilePath, dest); err != nil {
				return err
			}
			fmt.Fprintf(out, "saved %s\n", dest)
			return nil
		}
		n := a.notifier(out)
		_ = n.SendChatAction(ctx, chatID, delivery.ActionUploadDocument)
		return n.SendDocument(ctx, chatID, link.FilePath, "Your files are ready.")
	},
}

var linksCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete expired links and their archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		includeUsed, _ := cmd.Flags().GetBool("include-used")
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.links.Cleanup(cmd.Context(), includeUsed)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d link(s)\n", n)
		return nil
	},
}

var linksIssueCmd = &cobra.Command{
	Use:   "issue <archive>",
	Short: "Issue a download link for an existing archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetInt64("user")
		cfg := loadConfig()
		a, err := openApp(cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		path, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		link, err := a.links.Issue(cmd.Context(), userID, path, filepath.Base(path))
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "token:   %s\nexpires: %s\n", link.Token, link.ExpiresAt.Format(time.RFC3339))
		if deep := report.DeepLink(cfg.Delivery.LinkBot, link.Token); deep != "" {
			fmt.Fprintf(out, "link:    %s\n", deep)
		}
		return nil
	},
}

func copyFile(src, dest string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("reading %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(dest), err)
	}
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", dest, err)
	}
	return os.Rename(tmp, dest)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version of dastyar",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "dastyar %s\n", version)
	},
}

func parseSlot(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("slot must be a number: %q", s)
	}
	for _, slot := range accounts.Slots {
		if slot == n {
			return n, nil
		}
	}
	return 0, fmt.Errorf("unknown slot %d (want one of %v)", n, accounts.Slots)
}

func init() {
	linksRedeemCmd.Flags().Int64("user", 0, "redeeming user id (0 skips the owner check)")
	linksRedeemCmd.Flags().Int64("chat", 0, "chat id to deliver to (Telegram delivery only)")
	linksRedeemCmd.Flags().String("out", "", "copy the archive into this directory instead of sending it")
	linksCleanupCmd.Flags().Bool("include-used", true, "also delete links that were already redeemed")
	linksIssueCmd.Flags().Int64("user", 0, "owner user id")
	linksCmd.AddCommand(linksRedeemCmd, linksCleanupCmd, linksIssueCmd)

	rootCmd.AddCommand(activationCmd, linksCmd, versionCmd)
}
