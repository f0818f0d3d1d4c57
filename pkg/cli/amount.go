package cli

import (
	"fmt"
	"math/big"

	"github.com/speedrun-hq/speedrun-settler/pkg/chains"
	"github.com/spf13/cobra"
)

// NewAmountCommand creates the amount command converting between decimal and base units
func NewAmountCommand() *cobra.Command {
	var decimals int32
	cmd := &cobra.Command{
		Use:   "amount",
		Short: "Convert amounts between decimal and base units",
	}
	cmd.PersistentFlags().Int32Var(&decimals, "decimals", 6, "asset decimals")

	cmd.AddCommand(&cobra.Command{
		Use:   "parse <decimal>",
		Short: "Convert a decimal amount such as 12.5 to base units",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := chains.ParseAmount(args[0], decimals)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), v.String())
			return err
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "format <base-units>",
		Short: "Convert a base-unit amount to decimal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, ok := new(big.Int).SetString(args[0], 0)
			if !ok {
				return fmt.Errorf("invalid amount %q", args[0])
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), chains.FormatAmount(v, decimals))
			return err
		},
	})
	return cmd
}
