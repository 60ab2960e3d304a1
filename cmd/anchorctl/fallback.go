package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/jmerrifield20/anchorkit/pkg/client"
	"github.com/spf13/cobra"
)

var fallbackCmd = &cobra.Command{
	Use:   "fallback",
	Short: "Configure anchor fallback routing and inspect anchor health",
}

var (
	fbMaxRetries uint32
	fbThreshold  uint32
	fbFailed     string
)

func init() {
	set := &cobra.Command{
		Use:   "set <anchor>...",
		Short: "Replace the fallback order (admin)",
		Args:  cobra.MinimumNArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			cfg := client.FallbackConfig{AnchorOrder: args, MaxRetries: fbMaxRetries, FailureThreshold: fbThreshold}
			if err := c.ConfigureFallback(ctx, cfg); err != nil {
				return fmt.Errorf("configure fallback: %w", err)
			}
			return printFallback(cmd, &cfg)
		}),
	}
	set.Flags().Uint32Var(&fbMaxRetries, "max-retries", 2, "retries after the first attempt")
	set.Flags().Uint32Var(&fbThreshold, "failure-threshold", 3, "consecutive failures before an anchor is down")

	get := &cobra.Command{
		Use:   "get",
		Short: "Show the fallback configuration",
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			cfg, err := c.GetFallbackConfig(ctx)
			if err != nil {
				return err
			}
			return printFallback(cmd, cfg)
		}),
	}

	sel := &cobra.Command{
		Use:   "select",
		Short: "Show the anchor the registry would route to next",
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			anchor, err := c.SelectFallbackAnchor(ctx, fbFailed)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), map[string]string{"anchor": anchor}, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "ANCHOR\n%s\n", anchor)
			})
		}),
	}
	sel.Flags().StringVar(&fbFailed, "failed", "", "anchor that just failed; tried last")

	state := &cobra.Command{
		Use:   "state <anchor>",
		Short: "Show an anchor's failure state",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			st, err := c.AnchorState(ctx, args[0])
			if err != nil {
				return err
			}
			return printAnchorState(cmd, st)
		}),
	}

	fail := &cobra.Command{
		Use:   "fail <anchor>",
		Short: "Record a failure against an anchor (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			st, err := c.RecordFailure(ctx, args[0])
			if err != nil {
				return err
			}
			return printAnchorState(cmd, st)
		}),
	}

	recoverCmd := &cobra.Command{
		Use:   "recover <anchor>",
		Short: "Clear an anchor's failures (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			st, err := c.RecordSuccess(ctx, args[0])
			if err != nil {
				return err
			}
			return printAnchorState(cmd, st)
		}),
	}

	fallbackCmd.AddCommand(set, get, sel, state, fail, recoverCmd)
}

func printFallback(cmd *cobra.Command, cfg *client.FallbackConfig) error {
	return render(cmd.OutOrStdout(), cfg, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ORDER\tMAX RETRIES\tFAILURE THRESHOLD")
		fmt.Fprintf(tw, "%s\t%d\t%d\n", joinOrDash(cfg.AnchorOrder), cfg.MaxRetries, cfg.FailureThreshold)
	})
}

func printAnchorState(cmd *cobra.Command, st *client.AnchorState) error {
	return render(cmd.OutOrStdout(), st, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ANCHOR\tFAILURES\tLAST FAILURE\tDOWN")
		fmt.Fprintf(tw, "%s\t%d\t%s\t%t\n", st.Anchor, st.FailureCount, unixTime(st.LastFailureAt), st.IsDown)
	})
}
