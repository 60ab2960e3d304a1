package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/jmerrifield20/anchorkit/pkg/client"
	"github.com/spf13/cobra"
	"github.com/zeebo/blake3"
)

var attestCmd = &cobra.Command{
	Use:   "attest",
	Short: "Submit and inspect attestations",
}

var (
	attIssuer      string
	attSubject     string
	attTimestamp   int64
	attPayloadHash string
	attPayloadFile string
	attSignature   string
	attRequestID   string
)

func init() {
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit an attestation as its issuer",
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			hash, err := payloadHash(attPayloadHash, attPayloadFile)
			if err != nil {
				return err
			}
			ts := attTimestamp
			if ts == 0 {
				ts = time.Now().Unix()
			}
			id, err := c.SubmitAttestation(ctx, client.AttestationRequest{
				Issuer:      attIssuer,
				Subject:     attSubject,
				Timestamp:   ts,
				PayloadHash: hash,
				Signature:   attSignature,
				RequestID:   attRequestID,
			})
			if err != nil {
				return fmt.Errorf("submit attestation: %w", err)
			}
			return render(cmd.OutOrStdout(), map[string]any{"id": id, "payload_hash": hash}, func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "ID\tPAYLOAD HASH\n%d\t%s\n", id, hash)
			})
		}),
	}
	f := submit.Flags()
	f.StringVar(&attIssuer, "issuer", "", "issuing attestor id")
	f.StringVar(&attSubject, "subject", "", "subject the claim is about")
	f.Int64Var(&attTimestamp, "timestamp", 0, "claim time in unix seconds (default now)")
	f.StringVar(&attPayloadHash, "payload-hash", "", "hex 32-byte payload hash")
	f.StringVar(&attPayloadFile, "payload-file", "", "file to hash with BLAKE3 instead of --payload-hash")
	f.StringVar(&attSignature, "signature", "", "hex BLS signature")
	f.StringVar(&attRequestID, "request-id", "", "client request id (replay key)")
	_ = submit.MarkFlagRequired("issuer")
	_ = submit.MarkFlagRequired("subject")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show an attestation",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			a, err := c.GetAttestation(ctx, id)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), a, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ID\tISSUER\tSUBJECT\tTIMESTAMP\tPAYLOAD HASH")
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", a.ID, a.Issuer, a.Subject, unixTime(a.Timestamp), a.PayloadHash)
			})
		}),
	}

	attestCmd.AddCommand(submit, get)
}

// payloadHash returns the hex hash given directly or computed from file.
func payloadHash(given, file string) (string, error) {
	switch {
	case given != "" && file != "":
		return "", errors.New("use either --payload-hash or --payload-file")
	case given != "":
		return given, nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return "", err
		}
		sum := blake3.Sum256(data)
		return hex.EncodeToString(sum[:]), nil
	default:
		return "", errors.New("--payload-hash or --payload-file is required")
	}
}

// ── quotes ───────────────────────────────────────────────────────────────────

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Submit quotes and compare rates",
}

var (
	qReq      client.QuoteRequest
	qValidFor time.Duration
	qFallback bool

	rateReq client.RateRequest
)

func init() {
	submit := &cobra.Command{
		Use:   "submit",
		Short: "Submit a quote",
		Long: `Submit a quote as --anchor. With --fallback the registry reroutes to the
next healthy anchor in the fallback order when the anchor is down or fails
its probe.`,
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			req := qReq
			if req.ValidUntil == 0 {
				req.ValidUntil = time.Now().Add(qValidFor).Unix()
			}
			var (
				q   *client.Quote
				err error
			)
			if qFallback {
				q, err = c.SubmitQuoteWithFallback(ctx, req)
			} else {
				q, err = c.SubmitQuote(ctx, req)
			}
			if err != nil {
				return fmt.Errorf("submit quote: %w", err)
			}
			return printQuotes(cmd, q, *q)
		}),
	}
	f := submit.Flags()
	f.StringVar(&qReq.Anchor, "anchor", "", "submitting anchor id")
	f.StringVar(&qReq.BaseAsset, "base", "", "base asset symbol")
	f.StringVar(&qReq.QuoteAsset, "quote", "", "quote asset symbol")
	f.Uint64Var(&qReq.Rate, "rate", 0, "rate in fixed point (10000 = 1.0)")
	f.Uint32Var(&qReq.FeeBps, "fee-bps", 0, "fee in basis points")
	f.Uint64Var(&qReq.MinAmount, "min", 0, "minimum amount")
	f.Uint64Var(&qReq.MaxAmount, "max", 0, "maximum amount")
	f.Int64Var(&qReq.ValidUntil, "valid-until", 0, "expiry in unix seconds")
	f.DurationVar(&qValidFor, "valid-for", 5*time.Minute, "expiry relative to now when --valid-until is unset")
	f.StringVar(&qReq.Signature, "signature", "", "hex BLS signature")
	f.StringVar(&qReq.RequestID, "request-id", "", "client request id (replay key)")
	f.BoolVar(&qFallback, "fallback", false, "reroute through the fallback order")
	_ = submit.MarkFlagRequired("base")
	_ = submit.MarkFlagRequired("quote")
	_ = submit.MarkFlagRequired("rate")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a quote",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			q, err := c.GetQuote(ctx, id)
			if err != nil {
				return err
			}
			return printQuotes(cmd, q, *q)
		}),
	}

	compare := &cobra.Command{
		Use:   "compare <anchor>...",
		Short: "Pick the best live quote among anchors",
		Args:  cobra.MinimumNArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			req := rateReq
			req.Anchors = args
			cmp, err := c.CompareRates(ctx, req)
			if err != nil {
				return fmt.Errorf("compare rates: %w", err)
			}
			return printQuotes(cmd, cmp, cmp.Quotes...)
		}),
	}
	cf := compare.Flags()
	cf.StringVar(&rateReq.BaseAsset, "base", "", "base asset symbol")
	cf.StringVar(&rateReq.QuoteAsset, "quote", "", "quote asset symbol")
	cf.Uint64Var(&rateReq.Amount, "amount", 0, "amount to convert")
	_ = compare.MarkFlagRequired("base")
	_ = compare.MarkFlagRequired("quote")
	_ = compare.MarkFlagRequired("amount")

	quoteCmd.AddCommand(submit, get, compare)
}

func printQuotes(cmd *cobra.Command, v any, quotes ...client.Quote) error {
	return render(cmd.OutOrStdout(), v, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tANCHOR\tPAIR\tRATE\tFEE BPS\tRANGE\tVALID UNTIL")
		for _, q := range quotes {
			fmt.Fprintf(tw, "%d\t%s\t%s/%s\t%d\t%d\t%d-%d\t%s\n",
				q.ID, q.Anchor, q.BaseAsset, q.QuoteAsset, q.Rate, q.FeeBps,
				q.MinAmount, q.MaxAmount, unixTime(q.ValidUntil))
		}
	})
}

// ── intents ──────────────────────────────────────────────────────────────────

var intentCmd = &cobra.Command{
	Use:   "intent",
	Short: "Build and inspect transaction intents",
}

var iReq client.IntentRequest

func init() {
	build := &cobra.Command{
		Use:   "build",
		Short: "Build a deposit or withdrawal intent against an anchor",
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			t, err := c.BuildTransactionIntent(ctx, iReq)
			if err != nil {
				return fmt.Errorf("build intent: %w", err)
			}
			return printIntent(cmd, t)
		}),
	}
	f := build.Flags()
	f.StringVar(&iReq.Anchor, "anchor", "", "anchor id")
	f.StringVar(&iReq.Request.Operation, "operation", "deposits", "deposits or withdrawals")
	f.StringVar(&iReq.Request.BaseAsset, "base", "", "base asset symbol")
	f.StringVar(&iReq.Request.QuoteAsset, "quote", "", "quote asset symbol")
	f.Uint64Var(&iReq.Request.Amount, "amount", 0, "amount")
	f.Uint64Var(&iReq.QuoteID, "quote-id", 0, "bind this quote from the anchor")
	f.BoolVar(&iReq.RequireKYC, "require-kyc", false, "require the anchor to offer kyc")
	f.Uint64Var(&iReq.TTLSeconds, "ttl", 0, "lifetime in seconds (server default 300)")
	_ = build.MarkFlagRequired("anchor")
	_ = build.MarkFlagRequired("base")
	_ = build.MarkFlagRequired("quote")
	_ = build.MarkFlagRequired("amount")

	get := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a transaction intent",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid id %q", args[0])
			}
			t, err := c.GetTransactionIntent(ctx, id)
			if err != nil {
				return err
			}
			return printIntent(cmd, t)
		}),
	}

	intentCmd.AddCommand(build, get)
}

func printIntent(cmd *cobra.Command, t *client.TransactionIntent) error {
	return render(cmd.OutOrStdout(), t, func(tw *tabwriter.Writer) {
		fmt.Fprintln(tw, "ID\tANCHOR\tOPERATION\tPAIR\tAMOUNT\tQUOTE\tRATE\tKYC\tEXPIRES")
		quote := "-"
		if t.HasQuote {
			quote = strconv.FormatUint(t.QuoteID, 10)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s/%s\t%d\t%s\t%d\t%t\t%s\n",
			t.ID, t.Anchor, t.Request.Operation, t.Request.BaseAsset, t.Request.QuoteAsset,
			t.Request.Amount, quote, t.Rate, t.RequiresKYC, unixTime(t.ExpiresAt))
	})
}
