package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/anchorkit/internal/anchor/service"
	"github.com/jmerrifield20/anchorkit/internal/audit"
	"github.com/jmerrifield20/anchorkit/internal/clock"
	"github.com/jmerrifield20/anchorkit/internal/identity"
	"github.com/jmerrifield20/anchorkit/internal/store"
	"github.com/jmerrifield20/anchorkit/pkg/client"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Create and inspect audit sessions",
}

func init() {
	create := &cobra.Command{
		Use:   "create",
		Short: "Open a session; pass its id to --session on later commands",
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			s, err := c.CreateSession(ctx)
			if err != nil {
				return fmt.Errorf("create session: %w", err)
			}
			return printSession(cmd, s)
		}),
	}
	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a session and its operation count",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			s, err := c.GetSession(ctx, id)
			if err != nil {
				return err
			}
			return printSession(cmd, s)
		}),
	}
	sessionCmd.AddCommand(create, get)
}

func printSession(cmd *cobra.Command, s *client.Session) error {
	return render(cmd.OutOrStdout(), s, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tINITIATOR\tCREATED\tOPERATIONS")
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\n", s.ID, s.Initiator, s.CreatedAt.Format(time.RFC3339), s.OperationCount)
	})
}

// ── audit ────────────────────────────────────────────────────────────────────

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect, verify and export the audit log",
}

var (
	auditFrom  uint64
	auditLimit int
	exportFile string

	replayPebble       string
	replayWindow       time.Duration
	replayFailureState time.Duration
)

func init() {
	head := &cobra.Command{
		Use:   "head",
		Short: "Show the chain length and root hash",
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			h, err := c.AuditHead(ctx)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), h, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "LENGTH\tROOT\n%d\t%s\n", h.Length, h.Root)
			})
		}),
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List audit entries",
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			entries, err := c.ListAudit(ctx, auditFrom, auditLimit)
			if err != nil {
				return err
			}
			return printEntries(cmd, entries, entries...)
		}),
	}
	list.Flags().Uint64Var(&auditFrom, "from", 1, "first entry id")
	list.Flags().IntVar(&auditLimit, "limit", 50, "maximum entries")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show one audit entry",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			e, err := c.GetAuditEntry(ctx, id)
			if err != nil {
				return err
			}
			return printEntries(cmd, e, *e)
		}),
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Ask the registry to verify the whole hash chain",
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			if err := c.VerifyAudit(ctx); err != nil {
				return fmt.Errorf("audit log verification FAILED: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ audit log verified")
			return nil
		}),
	}

	export := &cobra.Command{
		Use:   "export",
		Short: "Download a zstd snapshot of the audit log",
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			snap, err := c.ExportAudit(ctx)
			if err != nil {
				return err
			}
			if err := os.WriteFile(exportFile, snap, 0o600); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ wrote %d bytes to %s\n", len(snap), exportFile)
			return nil
		}),
	}
	export.Flags().StringVarP(&exportFile, "file", "f", "audit.zst", "snapshot output path")

	replay := &cobra.Command{
		Use:   "replay <snapshot>",
		Short: "Verify a snapshot offline by re-executing it into a fresh store",
		Long: `replay checks the snapshot's hash chain, then re-runs every operation
against an empty store and confirms each regenerated entry matches the
original. With --pebble the rebuilt state is kept on disk and can back a
new anchord instance.`,
		Args: cobra.ExactArgs(1),
		RunE: runReplay,
	}
	replay.Flags().StringVar(&replayPebble, "pebble", "", "rebuild into a pebble store at this path (default in memory)")
	replay.Flags().DurationVar(&replayWindow, "replay-window", time.Hour, "replay window the registry ran with")
	replay.Flags().DurationVar(&replayFailureState, "failure-state-ttl", 24*time.Hour, "failure state TTL the registry ran with")

	auditCmd.AddCommand(head, list, get, verify, export, replay)
}

func runReplay(cmd *cobra.Command, args []string) error {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	entries, err := audit.Decode(raw)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	logger := zap.NewNop()
	var dst store.Store = store.NewMemory(store.Options{})
	if replayPebble != "" {
		p, err := store.OpenPebble(replayPebble, store.Options{}, logger)
		if err != nil {
			return err
		}
		defer p.Close() //nolint:errcheck
		dst = p
	}

	eng, err := service.NewEngine(store.NewMemory(store.Options{}), identity.AllowAll{}, clock.System{}, nil,
		service.Config{ReplayWindow: replayWindow, FailureStateTTL: replayFailureState}, logger)
	if err != nil {
		return err
	}
	if err := eng.Replay(cmd.Context(), entries, dst); err != nil {
		return err
	}

	root := audit.GenesisHash
	if n := len(entries); n > 0 {
		root = entries[n-1].Hash
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ replayed %d entries, root %s\n", len(entries), root)
	return nil
}

func printEntries(cmd *cobra.Command, v any, entries ...client.AuditEntry) error {
	return render(cmd.OutOrStdout(), v, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tSESSION\tKIND\tACTOR\tSTATUS\tRESULT\tHASH")
		for _, e := range entries {
			sess := "-"
			if e.SessionID != 0 {
				sess = fmt.Sprintf("%d#%d", e.SessionID, e.OperationIndex)
			}
			fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%.16s\n",
				e.ID, sess, e.Kind, e.Actor, e.Status, e.Result, e.Hash)
		}
	})
}
