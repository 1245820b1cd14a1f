package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"frizo/position_engine/internal/client"
	"github.com/spf13/cobra"
)

// RootConfig holds the flags every subcommand shares.
type RootConfig struct {
	Server  string
	Owner   string
	Timeout time.Duration
}

func (rc *RootConfig) client() *client.Client {
	opts := []client.Option{client.WithTimeout(rc.Timeout)}
	if rc.Owner != "" {
		opts = append(opts, client.WithOwner(rc.Owner))
	}
	return client.New(rc.Server, opts...)
}

// New builds the positionctl command tree.
func New() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:   "positionctl",
		Short: "Operate a positiond instance",
		Long: `positionctl talks to the position engine HTTP API.

It can:
  - create users and move their collateral
  - open, modify, close and liquidate positions
  - push mark prices and list what is past liquidation
  - show PnL, aggregate metrics and the leverage tiers`,
		SilenceUsage: true,
	}

	server := os.Getenv("POSITIOND_URL")
	if server == "" {
		server = "http://localhost:8080"
	}
	cmd.PersistentFlags().StringVar(&rc.Server, "server", server, "positiond base URL (env POSITIOND_URL)")
	cmd.PersistentFlags().StringVar(&rc.Owner, "owner", os.Getenv("POSITION_OWNER"), "caller identity sent as X-Owner-ID (env POSITION_OWNER)")
	cmd.PersistentFlags().DurationVar(&rc.Timeout, "timeout", 15*time.Second, "request timeout")

	cmd.AddCommand(
		newUsersCmd(rc),
		newPositionsCmd(rc),
		newMarkCmd(rc),
		newMetricsCmd(rc),
		newTiersCmd(rc),
		newVersionCmd(rc),
	)
	return cmd
}

// Execute runs the command tree against os.Args.
func Execute() error {
	return New().Execute()
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseAmount(arg string) (uint64, error) {
	v, err := strconv.ParseUint(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad amount %q: %w", arg, err)
	}
	return v, nil
}
