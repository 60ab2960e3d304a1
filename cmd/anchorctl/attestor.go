package main

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/anchorkit/pkg/client"
	"github.com/spf13/cobra"
)

var attestorCmd = &cobra.Command{
	Use:     "attestor",
	Aliases: []string{"anchor"},
	Short:   "Manage attestors and their capabilities",
}

var attestorPublicKey string

func init() {
	register := &cobra.Command{
		Use:   "register <id>",
		Short: "Register an attestor (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			a, err := c.RegisterAttestor(ctx, args[0], attestorPublicKey)
			if err != nil {
				return fmt.Errorf("register attestor: %w", err)
			}
			return printAttestor(cmd, a)
		}),
	}
	register.Flags().StringVar(&attestorPublicKey, "public-key", "", "hex BLS12-381 G1 public key (48 bytes compressed)")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show an attestor",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			a, err := c.GetAttestor(ctx, args[0])
			if err != nil {
				return err
			}
			return printAttestor(cmd, a)
		}),
	}

	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an attestor (admin)",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			if err := c.RevokeAttestor(ctx, args[0]); err != nil {
				return fmt.Errorf("revoke attestor: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ attestor %s revoked\n", args[0])
			return nil
		}),
	}

	services := &cobra.Command{
		Use:   "services <id> [deposits|withdrawals|quotes|kyc]...",
		Short: "Replace an attestor's supported services",
		Args:  cobra.MinimumNArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			if err := c.ConfigureServices(ctx, args[0], args[1:]); err != nil {
				return fmt.Errorf("configure services: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ services for %s: %s\n", args[0], joinOrDash(args[1:]))
			return nil
		}),
	}

	assets := &cobra.Command{
		Use:   "assets <id> [SYMBOL]...",
		Short: "Replace an attestor's supported asset symbols",
		Args:  cobra.MinimumNArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			if err := c.SetSupportedAssets(ctx, args[0], args[1:]); err != nil {
				return fmt.Errorf("set assets: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ assets for %s: %s\n", args[0], joinOrDash(args[1:]))
			return nil
		}),
	}

	endpoint := &cobra.Command{
		Use:   "endpoint <id> <url>",
		Short: "Set an attestor's endpoint (probed by the health checker)",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			ep, err := c.ConfigureEndpoint(ctx, args[0], args[1])
			if err != nil {
				return fmt.Errorf("configure endpoint: %w", err)
			}
			return render(cmd.OutOrStdout(), ep, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "ATTESTOR\tURL\tUPDATED\n%s\t%s\t%s\n", ep.Attestor, ep.URL, unixTime(ep.UpdatedAt))
			})
		}),
	}

	removeEndpoint := &cobra.Command{
		Use:   "remove-endpoint <id>",
		Short: "Remove an attestor's endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			if err := c.RemoveEndpoint(ctx, args[0]); err != nil {
				return fmt.Errorf("remove endpoint: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ endpoint for %s removed\n", args[0])
			return nil
		}),
	}

	attestorCmd.AddCommand(register, get, revoke, services, assets, endpoint, removeEndpoint)
}

func printAttestor(cmd *cobra.Command, a *client.Attestor) error {
	return render(cmd.OutOrStdout(), a, func(tw *tabwriter.Writer) {
		status := "active"
		if a.Revoked {
			status = "revoked"
		}
		fmt.Fprintln(tw, "ID\tSTATUS\tSERVICES\tASSETS\tREGISTERED")
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			a.ID, status, joinOrDash(a.Services), joinOrDash(a.Assets), unixTime(a.RegisteredAt))
	})
}

func unixTime(sec int64) string {
	if sec == 0 {
		return "-"
	}
	return time.Unix(sec, 0).UTC().Format(time.RFC3339)
}
