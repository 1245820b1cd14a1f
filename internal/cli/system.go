package cli

import (
	"fmt"

	"frizo/position_engine/internal/version"
	"github.com/spf13/cobra"
)

func newMarkCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "mark <symbol> <price>",
		Short: "Push a mark price and list positions past liquidation",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			price, err := parseAmount(args[1])
			if err != nil {
				return err
			}
			res, err := rc.client().UpdateMarkPrice(cmd.Context(), args[0], price)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
}

func newMetricsCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show aggregate engine metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := rc.client().Metrics(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), m)
		},
	}
}

func newTiersCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Show the leverage tier table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tiers, err := rc.client().Tiers(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), tiers)
		},
	}
}

func newVersionCmd(rc *RootConfig) *cobra.Command {
	var remote bool

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print client (and with --remote, server) version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
			if !remote {
				return nil
			}
			info, err := rc.client().Version(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nServer: %s %s (%s)\n", info.Service, info.Version, info.GitCommit)
			return nil
		},
	}

	cmd.Flags().BoolVar(&remote, "remote", false, "also query the server")
	return cmd
}
