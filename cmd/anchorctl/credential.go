package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/jmerrifield20/anchorkit/pkg/client"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	keySize   = 32
	nonceSize = 24
)

var credentialCmd = &cobra.Command{
	Use:     "credential",
	Aliases: []string{"cred"},
	Short:   "Manage attestor credentials",
	Long: `The registry stores credentials as ciphertext only. Seal the secret
locally first:

  anchorctl credential keygen > box.key
  echo -n "$API_KEY" | anchorctl credential seal --key-file box.key > api_key.sealed
  anchorctl credential store anchor-a api_key --sealed-file api_key.sealed`,
}

var (
	credKeyFile    string
	credSealed     string
	credSealedFile string
	credExpiresAt  int64

	policyInterval uint64
	policyRequire  bool
)

func init() {
	keygen := &cobra.Command{
		Use:   "keygen",
		Short: "Print a new base64 secretbox key",
		RunE: func(cmd *cobra.Command, args []string) error {
			var key [keySize]byte
			if _, err := rand.Read(key[:]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(key[:]))
			return nil
		},
	}

	seal := &cobra.Command{
		Use:   "seal",
		Short: "Encrypt stdin with NaCl secretbox and print base64 ciphertext",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readKey(credKeyFile)
			if err != nil {
				return err
			}
			plain, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			sealed, err := sealValue(key, plain)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), base64.StdEncoding.EncodeToString(sealed))
			return nil
		},
	}
	seal.Flags().StringVar(&credKeyFile, "key-file", "", "file holding a base64 secretbox key")
	_ = seal.MarkFlagRequired("key-file")

	open := &cobra.Command{
		Use:   "open",
		Short: "Decrypt base64 ciphertext from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readKey(credKeyFile)
			if err != nil {
				return err
			}
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return err
			}
			sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
			if err != nil {
				return fmt.Errorf("decode ciphertext: %w", err)
			}
			plain, err := openValue(key, sealed)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(plain)
			return err
		},
	}
	open.Flags().StringVar(&credKeyFile, "key-file", "", "file holding a base64 secretbox key")
	_ = open.MarkFlagRequired("key-file")

	store := &cobra.Command{
		Use:   "store <attestor> <type>",
		Short: "Store a sealed credential",
		Args:  cobra.ExactArgs(2),
		RunE:  withClient(writeCredential(false)),
	}
	rotate := &cobra.Command{
		Use:   "rotate <attestor> <type>",
		Short: "Replace a credential's sealed value",
		Args:  cobra.ExactArgs(2),
		RunE:  withClient(writeCredential(true)),
	}
	for _, c := range []*cobra.Command{store, rotate} {
		c.Flags().StringVar(&credSealed, "sealed", "", "base64 ciphertext")
		c.Flags().StringVar(&credSealedFile, "sealed-file", "", "file holding base64 ciphertext")
		c.Flags().Int64Var(&credExpiresAt, "expires-at", 0, "expiry in unix seconds (0 = never)")
	}

	revoke := &cobra.Command{
		Use:   "revoke <attestor> <type>",
		Short: "Revoke a credential",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			if err := c.RevokeCredential(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("revoke credential: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ %s credential for %s revoked\n", args[1], args[0])
			return nil
		}),
	}

	status := &cobra.Command{
		Use:   "status <attestor> <type>",
		Short: "Check that a credential is usable now",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			st, err := c.ValidateCredential(ctx, args[0], args[1])
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), st, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ATTESTOR\tTYPE\tEXPIRES\tLAST ROTATED\tROTATION DUE")
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n", st.Attestor, st.Type,
					unixTime(st.ExpiresAt), unixTime(st.LastRotatedAt), st.RotationRequired)
			})
		}),
	}

	policy := &cobra.Command{
		Use:   "policy <attestor>",
		Short: "Set an attestor's rotation policy",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
			p, err := c.SetCredentialPolicy(ctx, args[0], policyInterval, policyRequire)
			if err != nil {
				return fmt.Errorf("set policy: %w", err)
			}
			return render(cmd.OutOrStdout(), p, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "ATTESTOR\tROTATION INTERVAL (s)\tREQUIRE ENCRYPTION")
				fmt.Fprintf(tw, "%s\t%d\t%t\n", p.Attestor, p.RotationIntervalSeconds, p.RequireEncryption)
			})
		}),
	}
	policy.Flags().Uint64Var(&policyInterval, "rotation-interval", 0, "seconds between required rotations (0 = none)")
	policy.Flags().BoolVar(&policyRequire, "require-encryption", true, "reject values too short to be ciphertext")

	credentialCmd.AddCommand(keygen, seal, open, store, rotate, revoke, status, policy)
}

func writeCredential(rotate bool) func(context.Context, *client.Client, *cobra.Command, []string) error {
	return func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error {
		sealed, err := sealedInput(credSealed, credSealedFile)
		if err != nil {
			return err
		}
		var cred *client.Credential
		if rotate {
			cred, err = c.RotateCredential(ctx, args[0], args[1], sealed, credExpiresAt)
		} else {
			cred, err = c.StoreCredential(ctx, args[0], args[1], sealed, credExpiresAt)
		}
		if err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), cred, func(tw *tabwriter.Writer) {
			fmt.Fprintln(tw, "ATTESTOR\tTYPE\tEXPIRES\tLAST ROTATED")
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", cred.Attestor, cred.Type, unixTime(cred.ExpiresAt), unixTime(cred.LastRotatedAt))
		})
	}
}

func sealedInput(inline, file string) ([]byte, error) {
	switch {
	case inline != "" && file != "":
		return nil, errors.New("use either --sealed or --sealed-file")
	case file != "":
		raw, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		inline = string(raw)
	case inline == "":
		return nil, errors.New("--sealed or --sealed-file is required")
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(inline))
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	return b, nil
}

func readKey(path string) (*[keySize]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("decode key: %w", err)
	}
	if len(b) != keySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", keySize, len(b))
	}
	var key [keySize]byte
	copy(key[:], b)
	return &key, nil
}

// sealValue encrypts plain as nonce || secretbox(plain).
func sealValue(key *[keySize]byte, plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, err
	}
	return secretbox.Seal(nonce[:], plain, &nonce, key), nil
}

func openValue(key *[keySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, errors.New("ciphertext too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return nil, errors.New("decryption failed: wrong key or corrupted ciphertext")
	}
	return plain, nil
}
