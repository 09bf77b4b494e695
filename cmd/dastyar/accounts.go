// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dastyar-team/dastyar/internal/accounts"
	"github.com/dastyar-team/dastyar/internal/session"
	"github.com/dastyar-team/dastyar/pkg/types"
)

var accountsCmd = &cobra.Command{
	Use:   "accounts",
	Short: "Manage the paid-venue account slots",
	Long: `Account credentials come from IRANPAPER_EMAIL_<n> and IRANPAPER_PASSWORD_<n>
in the environment or .secrets/. These commands manage the stored state of
each slot: whether it is active, which slot is primary, and which VPN config
it uses.`,
}

var accountsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List account slots in retrieval order",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		slots, err := accounts.Load(cmd.Context(), a.store, lookup)
		if err != nil {
			return err
		}
		printSlots(cmd.OutOrStdout(), slots)
		return nil
	},
}

func printSlots(w io.Writer, slots []types.AccountSlot) {
	for _, s := range slots {
		email := s.Email
		if email == "" {
			email = "(no credentials)"
		}
		var flags []string
		if s.Primary {
			flags = append(flags, "primary")
		}
		if s.Active {
			flags = append(flags, "active")
		}
		if s.Active && !s.HasCredentials() {
			flags = append(flags, "unusable")
		}
		line := fmt.Sprintf("slot %d: %s", s.Slot, email)
		if len(flags) > 0 {
			line += " [" + strings.Join(flags, ", ") + "]"
		}
		if s.VPNID != "" {
			line += " vpn=" + s.VPNID
		}
		fmt.Fprintln(w, line)
	}
}

// slotCommand builds a command that takes a single slot argument.
func slotCommand(use, short string, fn func(cmd *cobra.Command, a *app, slot int) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <slot>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			a, err := openApp(loadConfig(), logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(cmd, a, slot)
		},
	}
}

var accountsActivateCmd = slotCommand("activate", "Mark a slot active", func(cmd *cobra.Command, a *app, slot int) error {
	if err := accounts.SetActive(cmd.Context(), a.store, slot, true); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "slot %d active\n", slot)
	return nil
})

var accountsDeactivateCmd = slotCommand("deactivate", "Mark a slot inactive", func(cmd *cobra.Command, a *app, slot int) error {
	if err := accounts.SetActive(cmd.Context(), a.store, slot, false); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "slot %d inactive\n", slot)
	return nil
})

var accountsPrimaryCmd = slotCommand("primary", "Make a slot the first one tried", func(cmd *cobra.Command, a *app, slot int) error {
	if err := accounts.SetPrimary(cmd.Context(), a.store, slot); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "slot %d is primary\n", slot)
	return nil
})

var accountsBindCmd = &cobra.Command{
	Use:   "bind <slot> <vpn-id>",
	Short: "Bind a slot to a VPN config of the account region",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := parseSlot(args[0])
		if err != nil {
			return err
		}
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()
		ctx := cmd.Context()

		configs, err := accounts.Configs(ctx, a.store, accounts.AccountRegion)
		if err != nil {
			return err
		}
		found := false
		for _, c := range configs {
			found = found || c.ID == args[1]
		}
		if !found {
			return fmt.Errorf("no %s vpn config with id %q", accounts.AccountRegion, args[1])
		}
		if err := accounts.BindVPN(ctx, a.store, slot, args[1]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "slot %d bound to %s\n", slot, args[1])
		return nil
	},
}

var accountsWarmupCmd = &cobra.Command{
	Use:   "warmup",
	Short: "Log every active slot in ahead of a batch",
	RunE: func(cmd *cobra.Command, args []string) error {
		fast, _ := cmd.Flags().GetBool("no-delay")
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		slots, err := accounts.Load(ctx, a.store, lookup)
		if err != nil {
			return err
		}
		delays := session.DefaultWarmupDelays
		if fast {
			delays = session.WarmupDelays{}
		}
		ok := session.Warmup(ctx, a.sessionManager(), slots, a.vpnFunc(), delays, logger)
		fmt.Fprintf(cmd.OutOrStdout(), "warmed up %d session(s)\n", ok)
		return nil
	},
}

var vpnCmd = &cobra.Command{
	Use:   "vpn",
	Short: "Manage per-region VPN configs",
}

var vpnAddCmd = &cobra.Command{
	Use:   "add <region> <file|->",
	Short: "Store a VPN config (process JSON or a share URL)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		label, _ := cmd.Flags().GetString("label")
		data, err := readInput(args[1])
		if err != nil {
			return err
		}
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		c, err := accounts.AddConfig(cmd.Context(), a.store, args[0], label, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added %s (%s) to %s\n", c.ID, c.Label, accounts.NormRegion(args[0]))
		return nil
	},
}

var vpnListCmd = &cobra.Command{
	Use:   "list <region>",
	Short: "List the VPN configs of a region",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		configs, err := accounts.Configs(cmd.Context(), a.store, args[0])
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(configs) == 0 {
			fmt.Fprintf(out, "no configs for %s\n", accounts.NormRegion(args[0]))
			return nil
		}
		for _, c := range configs {
			marker := " "
			if c.Active {
				marker = "*"
			}
			fmt.Fprintf(out, "%s %s  %s", marker, c.ID, c.Label)
			if c.Status != "" {
				fmt.Fprintf(out, "  %s %dms", c.Status, c.Ping)
			}
			fmt.Fprintln(out)
		}
		return nil
	},
}

var vpnRemoveCmd = &cobra.Command{
	Use:   "remove <region> <id>",
	Short: "Delete a VPN config",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		removed, err := accounts.RemoveConfig(cmd.Context(), a.store, args[0], args[1])
		if err != nil {
			return err
		}
		if !removed {
			return fmt.Errorf("no config %q in %s", args[1], accounts.NormRegion(args[0]))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[1])
		return nil
	},
}

var vpnUseCmd = &cobra.Command{
	Use:   "use <region> <id>",
	Short: "Make a VPN config the active one of its region",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		found, err := accounts.SetActiveConfig(cmd.Context(), a.store, args[0], args[1])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no config %q in %s", args[1], accounts.NormRegion(args[0]))
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is active in %s\n", args[1], accounts.NormRegion(args[0]))
		return nil
	},
}

// readInput reads a whole file, or stdin for "-".
func readInput(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return string(data), nil
}

func init() {
	accountsWarmupCmd.Flags().Bool("no-delay", false, "skip the pauses between logins")
	accountsCmd.AddCommand(accountsListCmd, accountsActivateCmd, accountsDeactivateCmd,
		accountsPrimaryCmd, accountsBindCmd, accountsWarmupCmd)

	vpnAddCmd.Flags().String("label", "", "display label (default \"Config <n>\")")
	vpnCmd.AddCommand(vpnAddCmd, vpnListCmd, vpnRemoveCmd, vpnUseCmd)

	rootCmd.AddCommand(accountsCmd, vpnCmd)
}
