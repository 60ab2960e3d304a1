package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/jmerrifield20/anchorkit/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL   string
	bearerToken string
	caller      string
	adminSecret string
	svidDir     string
	sessionID   uint64
	output      string
	cfgFile     string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "anchorctl",
	Short: "anchorkit trust registry CLI",
	Long: `anchorctl manages attestors, attestations, credentials and fallback
routing on an anchorkit registry, and inspects its audit log.

Authenticate with one of:
  --token <jwt>                       a caller token
  --caller <id> --admin-secret <s>    mint a token for <id> via /auth/token
  --svid-dir <dir>                    mTLS with an X.509-SVID`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".anchorctl"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("anchorctl")
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		fill := func(dst *string, key, def string) {
			if *dst == "" {
				*dst = viper.GetString(key)
			}
			if *dst == "" {
				*dst = def
			}
		}
		fill(&serverURL, "server", "http://localhost:8080")
		fill(&bearerToken, "token", "")
		fill(&caller, "caller", "")
		fill(&adminSecret, "admin-secret", "")
		fill(&svidDir, "svid-dir", "")

		switch output {
		case "table", "json", "yaml":
			return nil
		default:
			return fmt.Errorf("--output %q: want table, json or yaml", output)
		}
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ~/.anchorctl/config.yaml)")
	pf.StringVar(&serverURL, "server", "", "registry base URL (default http://localhost:8080)")
	pf.StringVar(&bearerToken, "token", "", "caller token")
	pf.StringVar(&caller, "caller", "", "identity to mint a token for (with --admin-secret)")
	pf.StringVar(&adminSecret, "admin-secret", "", "operator secret for POST /auth/token")
	pf.StringVar(&svidDir, "svid-dir", "", "directory with svid.pem, svid_key.pem and bundle.pem")
	pf.Uint64Var(&sessionID, "session", 0, "run mutations inside this audit session")
	pf.StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")

	rootCmd.AddCommand(attestorCmd)
	rootCmd.AddCommand(attestCmd)
	rootCmd.AddCommand(quoteCmd)
	rootCmd.AddCommand(intentCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(credentialCmd)
	rootCmd.AddCommand(fallbackCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the anchorctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "anchorctl %s\n", version)
	},
}

// newClient builds an SDK client from the global flags.
func newClient() (*client.Client, error) {
	var opts []client.Option
	switch {
	case bearerToken != "":
		opts = append(opts, client.WithBearerToken(bearerToken))
	case caller != "" || adminSecret != "":
		opts = append(opts, client.WithAdminSecret(caller, adminSecret))
	}
	if sessionID != 0 {
		opts = append(opts, client.WithSession(sessionID))
	}
	if svidDir != "" {
		return client.NewFromSVIDDir(serverURL, svidDir, opts...)
	}
	return client.New(serverURL, opts...)
}

// withClient adapts a client-using function into a cobra RunE.
func withClient(fn func(ctx context.Context, c *client.Client, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		return fn(cmd.Context(), c, cmd, args)
	}
}

// render prints v in the selected output format. table writes the table
// form; when nil, table output falls back to YAML.
func render(w io.Writer, v any, table func(tw *tabwriter.Writer)) error {
	switch {
	case output == "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case output == "yaml" || table == nil:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(toYAML(v)); err != nil {
			return err
		}
		return enc.Close()
	default:
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	}
}

// toYAML round-trips v through JSON so YAML keys follow the API's field
// names rather than Go's.
func toYAML(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return v
	}
	return out
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ",")
}
