package cli

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/speedrun-hq/speedrun-settler/pkg/cctp"
	"github.com/speedrun-hq/speedrun-settler/pkg/chains"
	"github.com/spf13/cobra"
)

// TransferView is the decoded form of a burn-with-hook message
type TransferView struct {
	MessageID         common.Hash     `json:"messageId"`
	SourceDomain      uint32          `json:"sourceDomain"`
	SourceChain       string          `json:"sourceChain"`
	DestinationDomain uint32          `json:"destinationDomain"`
	DestinationChain  string          `json:"destinationChain"`
	BurnToken         common.Hash     `json:"burnToken"`
	MintRecipient     common.Hash     `json:"mintRecipient"`
	// MintRecipientEVM is set when the recipient is a left-padded EVM address
	MintRecipientEVM  *common.Address `json:"mintRecipientEvm,omitempty"`
	Amount            string          `json:"amount"`
	MaxFee            string          `json:"maxFee"`
	FeeExecuted       string          `json:"feeExecuted"`
	Proceeds          string          `json:"proceeds"`
	HookTarget        common.Address  `json:"hookTarget"`
	OrderID           common.Hash     `json:"orderId"`
	IntentHash        common.Hash     `json:"intentHash"`
}

// NewDecodeMessageCommand creates the decode-message command
func NewDecodeMessageCommand() *cobra.Command {
	var decimals int32
	cmd := &cobra.Command{
		Use:   "decode-message <hex>",
		Short: "Decode a CCTP V2 burn-with-hook message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := hexutil.Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid message: %w", err)
			}
			t, err := cctp.DecodeTransfer(raw)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), transferView(t, decimals))
		},
	}
	cmd.Flags().Int32Var(&decimals, "decimals", 6, "decimals used to format amounts")
	return cmd
}

func transferView(t *cctp.Transfer, decimals int32) TransferView {
	format := func(v *big.Int) string { return chains.FormatAmount(v, decimals) }

	view := TransferView{
		MessageID:         t.Message.ID(),
		SourceDomain:      t.Message.SourceDomain,
		SourceChain:       chains.GetDomainName(t.Message.SourceDomain),
		DestinationDomain: t.Message.DestinationDomain,
		DestinationChain:  chains.GetDomainName(t.Message.DestinationDomain),
		BurnToken:         t.Burn.BurnToken,
		MintRecipient:     t.Burn.MintRecipient,
		Amount:            format(t.Burn.Amount),
		MaxFee:            format(t.Burn.MaxFee),
		FeeExecuted:       format(t.Burn.FeeExecuted),
		Proceeds:          format(t.Burn.Proceeds()),
		HookTarget:        t.Hook.Target,
		OrderID:           t.Hook.OrderID,
		IntentHash:        t.Hook.IntentHash,
	}
	if recipient, ok := cctp.AddressFromBytes32(t.Burn.MintRecipient); ok {
		view.MintRecipientEVM = &recipient
	}
	return view
}
