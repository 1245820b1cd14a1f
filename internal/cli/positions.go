package cli

import (
	"fmt"

	"frizo/position_engine/internal/engine"
	"frizo/position_engine/internal/position"
	"frizo/position_engine/internal/store"
	"github.com/spf13/cobra"
)

func newPositionsCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "positions",
		Aliases: []string{"pos"},
		Short:   "Open, adjust and settle positions",
	}

	cmd.AddCommand(
		newOpenCmd(rc),
		newListPositionsCmd(rc),
		&cobra.Command{
			Use:   "get <id>",
			Short: "Show a position",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				pos, err := rc.client().GetPosition(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), pos)
			},
		},
		newModifyCmd(rc),
		newCloseCmd(rc),
		newLiquidateCmd(rc),
	)
	return cmd
}

func newOpenCmd(rc *RootConfig) *cobra.Command {
	var (
		symbol   string
		side     string
		size     uint64
		price    uint64
		leverage uint16
	)

	cmd := &cobra.Command{
		Use:   "open",
		Short: "Open a position for --owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if rc.Owner == "" {
				return fmt.Errorf("missing --owner")
			}
			s, err := position.ParseSide(side)
			if err != nil {
				return err
			}

			res, err := rc.client().OpenPosition(cmd.Context(), engine.OpenRequest{
				Owner:      rc.Owner,
				Symbol:     symbol,
				Side:       s,
				Size:       size,
				EntryPrice: price,
				Leverage:   leverage,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "market symbol, e.g. BTCUSDT")
	cmd.Flags().StringVar(&side, "side", "", "long or short")
	cmd.Flags().Uint64Var(&size, "size", 0, "position size")
	cmd.Flags().Uint64Var(&price, "price", 0, "entry price")
	cmd.Flags().Uint16Var(&leverage, "leverage", 1, "leverage multiplier")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("side")
	_ = cmd.MarkFlagRequired("size")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newListPositionsCmd(rc *RootConfig) *cobra.Command {
	var filter store.Filter

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			positions, err := rc.client().ListPositions(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), positions)
		},
	}

	cmd.Flags().StringVar(&filter.Owner, "for", "", "only positions of this owner")
	cmd.Flags().StringVar(&filter.Symbol, "symbol", "", "only positions on this symbol")
	cmd.Flags().BoolVar(&filter.OpenOnly, "open", false, "only open positions")
	return cmd
}

func newModifyCmd(rc *RootConfig) *cobra.Command {
	var sizeDelta, marginDelta int64

	cmd := &cobra.Command{
		Use:   "modify <id>",
		Short: "Apply size and margin deltas",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rc.client().ModifyPosition(cmd.Context(), args[0], sizeDelta, marginDelta)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().Int64Var(&sizeDelta, "size-delta", 0, "signed size change")
	cmd.Flags().Int64Var(&marginDelta, "margin-delta", 0, "signed margin change")
	return cmd
}

func newCloseCmd(rc *RootConfig) *cobra.Command {
	var price uint64

	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close a position at --price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rc.client().ClosePosition(cmd.Context(), args[0], price)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().Uint64Var(&price, "price", 0, "exit price")
	_ = cmd.MarkFlagRequired("price")
	return cmd
}

func newLiquidateCmd(rc *RootConfig) *cobra.Command {
	var price uint64

	cmd := &cobra.Command{
		Use:   "liquidate <id>",
		Short: "Liquidate a position",
		Long:  "Liquidate a position. Without --price it settles at the last mark, or at the liquidation price.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := rc.client().LiquidatePosition(cmd.Context(), args[0], price)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}

	cmd.Flags().Uint64Var(&price, "price", 0, "settlement price")
	return cmd
}
