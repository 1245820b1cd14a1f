package cli

import (
	"github.com/spf13/cobra"
)

func newUsersCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Manage collateral accounts",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "create <owner>",
			Short: "Initialize an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				user, err := rc.client().CreateUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), user)
			},
		},
		&cobra.Command{
			Use:   "list",
			Short: "List accounts",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				users, err := rc.client().ListUsers(cmd.Context())
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), users)
			},
		},
		&cobra.Command{
			Use:   "get <owner>",
			Short: "Show an account",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				user, err := rc.client().GetUser(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), user)
			},
		},
		&cobra.Command{
			Use:   "pnl <owner>",
			Short: "Show realized and unrealized PnL",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				pnl, err := rc.client().UserPnL(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pnl)
			},
		},
		&cobra.Command{
			Use:   "deposit <owner> <amount>",
			Short: "Add free collateral",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := parseAmount(args[1])
				if err != nil {
					return err
				}
				user, err := rc.client().Deposit(cmd.Context(), args[0], amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), user)
			},
		},
		&cobra.Command{
			Use:   "withdraw <owner> <amount>",
			Short: "Remove free collateral",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				amount, err := parseAmount(args[1])
				if err != nil {
					return err
				}
				user, err := rc.client().Withdraw(cmd.Context(), args[0], amount)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), user)
			},
		},
	)
	return cmd
}
