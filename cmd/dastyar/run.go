// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/dastyar-team/dastyar/internal/doi"
	"github.com/dastyar-team/dastyar/internal/worker"
	"github.com/dastyar-team/dastyar/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run [dois...]",
	Short: "Resolve a batch of DOIs and retrieve their PDFs",
	Long: `Run resolves metadata for every DOI in parallel, prints a summary, then
retrieves each document in turn: the open-access copy first, then the
configured providers, the paid venue (recent years only, when activation is
on) and the archive fallback. Retrieved files are packaged into an archive
with summary.pdf and meta.json and delivered through the configured channel.

DOIs come from arguments and from --file (one per line, "-" for stdin).`,
	RunE: runBatch,
}

var resolveCmd = &cobra.Command{
	Use:   "resolve [dois...]",
	Short: "Resolve and classify DOIs without retrieving anything",
	RunE:  runResolve,
}

func init() {
	for _, c := range []*cobra.Command{runCmd, resolveCmd} {
		c.Flags().String("file", "", "read DOIs from a file, one per line (\"-\" for stdin)")
		c.Flags().Int64("user", 0, "user id that owns the records")
	}
	runCmd.Flags().Bool("oa-only", false, "retrieve open-access copies only")
	runCmd.Flags().Bool("force", false, "skip the venue journal check")
	runCmd.Flags().Int64("chat", 0, "chat id to deliver to (Telegram delivery only)")
	runCmd.Flags().Bool("yaml", false, "print the report entries as YAML")

	rootCmd.AddCommand(runCmd, resolveCmd)
}

// readDOIs collects normalized DOIs from args and the --file flag. Blank
// lines and lines starting with # are skipped.
func readDOIs(cmd *cobra.Command, args []string) ([]string, error) {
	var raw []string
	raw = append(raw, args...)

	path, _ := cmd.Flags().GetString("file")
	if path != "" {
		var r io.Reader = os.Stdin
		if path != "-" {
			f, err := os.Open(path)
			if err != nil {
				return nil, fmt.Errorf("opening %s: %w", path, err)
			}
			defer f.Close()
			r = f
		}
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			raw = append(raw, line)
		}
		if err := sc.Err(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	var out []string
	for _, r := range raw {
		d := doi.Normalize(r)
		if !doi.Valid(d) {
			logger.Warn("doi_invalid", "input", r)
			continue
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("provide one or more DOIs as arguments or with --file")
	}
	return out, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBatch(cmd *cobra.Command, args []string) error {
	dois, err := readDOIs(cmd, args)
	if err != nil {
		return err
	}
	oaOnly, _ := cmd.Flags().GetBool("oa-only")
	force, _ := cmd.Flags().GetBool("force")
	userID, _ := cmd.Flags().GetInt64("user")
	chatID, _ := cmd.Flags().GetInt64("chat")
	asYAML, _ := cmd.Flags().GetBool("yaml")

	a, err := openApp(loadConfig(), logger)
	if err != nil {
		return err
	}
	defer a.Close()

	out := cmd.OutOrStdout()
	orch, err := a.orchestrator(out, force)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	res, err := orch.ResolveAndDownload(ctx, userID, chatID, dois, oaOnly)
	if res == nil {
		return err
	}

	if asYAML {
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if encErr := enc.Encode(res.Entries); encErr != nil {
			return encErr
		}
		enc.Close()
	} else {
		printEntries(out, res.Entries)
	}
	if res.Archive != "" {
		fmt.Fprintf(out, "\nArchive: %s\n", res.Archive)
	}
	if res.Link != "" {
		fmt.Fprintf(out, "Link: %s\n", res.Link)
	}
	return err
}

func printEntries(w io.Writer, entries []types.ReportEntry) {
	fmt.Fprintln(w)
	for i, e := range entries {
		fmt.Fprintf(w, "%3d. %s\n", i+1, e.DOI)
		fmt.Fprintf(w, "     %s | %s", e.Status, e.Cost)
		if e.Source != "" {
			fmt.Fprintf(w, " | via %s", e.Source)
		}
		fmt.Fprintln(w)
	}
}

func runResolve(cmd *cobra.Command, args []string) error {
	dois, err := readDOIs(cmd, args)
	if err != nil {
		return err
	}
	userID, _ := cmd.Flags().GetInt64("user")
	cfg := loadConfig()

	a, err := openApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signalContext()
	defer cancel()

	records := make([]types.MetadataRecord, len(dois))
	pool := worker.NewPool(cfg.Resolver.MaxParallel)
	for i, d := range dois {
		if err := pool.Go(ctx, func(ctx context.Context) {
			rec := types.MetadataRecord{DOI: d, Category: types.CategoryUnknown, CategorySource: "none"}
			res, err := a.resolver.Resolve(ctx, d)
			if err != nil {
				rec.Status = types.StatusError
				rec.Error = err.Error()
			} else {
				rec = res.Record
			}
			if err := a.store.UpsertRecord(ctx, userID, rec); err != nil {
				logger.Warn("record_upsert_failed", "doi", d, "err", err)
			}
			records[i] = rec
		}); err != nil {
			break
		}
	}
	pool.Wait()

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	defer enc.Close()
	enc.SetIndent(2)
	return enc.Encode(records)
}
