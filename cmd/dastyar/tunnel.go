// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"net"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/dastyar-team/dastyar/internal/accounts"
	"github.com/dastyar-team/dastyar/internal/tunnel"
)

const probeTimeout = 2 * time.Second

var tunnelCmd = &cobra.Command{
	Use:   "tunnel",
	Short: "Run and inspect per-region proxy tunnels",
}

var tunnelUpCmd = &cobra.Command{
	Use:   "up <region> [file|-]",
	Short: "Start a region's tunnel and keep it running until interrupted",
	Long: `Up starts the v2ray process for a region, downloading the binary on first
use. The config comes from the file argument, or from the region's active
stored VPN config when no file is given.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		region := accounts.NormRegion(args[0])
		a, err := openApp(loadConfig(), logger)
		if err != nil {
			return err
		}
		defer a.Close()

		ctx, cancel := signalContext()
		defer cancel()

		var raw string
		if len(args) == 2 {
			if raw, err = readInput(args[1]); err != nil {
				return err
			}
		} else {
			c, ok, err := accounts.ActiveConfig(ctx, a.store, region)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no stored vpn config for %s", region)
			}
			raw = c.Data
		}

		ep, err := a.tunnels.Ensure(ctx, region, raw)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s tunnel listening on %s (ctrl-c to stop)\n", region, ep.Proxy)
		<-ctx.Done()
		return nil
	},
}

var tunnelStatusCmd = &cobra.Command{
	Use:   "status [region...]",
	Short: "Probe the local proxy port of each region",
	RunE: func(cmd *cobra.Command, args []string) error {
		regions := args
		if len(regions) == 0 {
			for r := range tunnel.Ports {
				regions = append(regions, r)
			}
		}
		out := cmd.OutOrStdout()
		for _, r := range sortedRegions(regions) {
			addr := net.JoinHostPort("127.0.0.1", strconv.Itoa(tunnel.PortFor(r)))
			state := "down"
			if conn, err := net.DialTimeout("tcp", addr, probeTimeout); err == nil {
				conn.Close()
				state = "up"
			}
			fmt.Fprintf(out, "%-8s %s %s\n", accounts.NormRegion(r), addr, state)
		}
		return nil
	},
}

func sortedRegions(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, r := range in {
		r = accounts.NormRegion(r)
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	sort.Strings(out)
	return out
}

func init() {
	tunnelCmd.AddCommand(tunnelUpCmd, tunnelStatusCmd)
	rootCmd.AddCommand(tunnelCmd)
}
