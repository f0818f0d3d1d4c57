package cli

import (
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/spf13/cobra"
)

// domainOptions selects the EIP-712 domain intents are hashed under
type domainOptions struct {
	ChainID           int64
	VerifyingContract string
	IntentFile        string
}

func (o *domainOptions) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&o.ChainID, "chain-id", 8453, "chain id of the EIP-712 domain")
	cmd.Flags().StringVar(&o.VerifyingContract, "verifying-contract", "", "verifying contract of the EIP-712 domain")
	cmd.Flags().StringVarP(&o.IntentFile, "intent", "i", "-", "payment intent JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("verifying-contract")
}

func (o *domainOptions) hasher() (*intent.Hasher, error) {
	if !common.IsHexAddress(o.VerifyingContract) {
		return nil, fmt.Errorf("invalid verifying contract %q", o.VerifyingContract)
	}
	return intent.NewHasher(big.NewInt(o.ChainID), common.HexToAddress(o.VerifyingContract))
}

// HashResult is the output of the hash command
type HashResult struct {
	DomainSeparator common.Hash `json:"domainSeparator"`
	StructHash      common.Hash `json:"structHash"`
	Digest          common.Hash `json:"digest"`
}

// NewHashCommand creates the hash command
func NewHashCommand() *cobra.Command {
	opts := &domainOptions{}
	cmd := &cobra.Command{
		Use:   "hash",
		Short: "Compute the EIP-712 digest of a payment intent",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			hasher, err := opts.hasher()
			if err != nil {
				return err
			}
			p, err := readIntent(cmd.InOrStdin(), opts.IntentFile)
			if err != nil {
				return err
			}
			structHash, err := hasher.StructHash(p)
			if err != nil {
				return err
			}
			digest, err := hasher.Hash(p)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), HashResult{
				DomainSeparator: hasher.DomainSeparator(),
				StructHash:      structHash,
				Digest:          digest,
			})
		},
	}
	opts.register(cmd)
	return cmd
}

// SignResult is the output of the sign command
type SignResult struct {
	Signer    common.Address `json:"signer"`
	Digest    common.Hash    `json:"digest"`
	Signature hexutil.Bytes  `json:"signature"`
}

// NewSignCommand creates the sign command
func NewSignCommand() *cobra.Command {
	opts := &domainOptions{}
	var keyEnv string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a payment intent with a merchant or operator key",
		Long: `Sign a payment intent with the key held in an environment variable.

The signature is 65 bytes, r || s || v with v in {27, 28}.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			key, err := parseKey(os.Getenv(keyEnv))
			if err != nil {
				return fmt.Errorf("%s: %w", keyEnv, err)
			}
			hasher, err := opts.hasher()
			if err != nil {
				return err
			}
			p, err := readIntent(cmd.InOrStdin(), opts.IntentFile)
			if err != nil {
				return err
			}
			digest, err := hasher.Hash(p)
			if err != nil {
				return err
			}
			sig, err := intent.Sign(digest, key)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), SignResult{
				Signer:    crypto.PubkeyToAddress(key.PublicKey),
				Digest:    digest,
				Signature: sig,
			})
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVar(&keyEnv, "key-env", "SIGNER_KEY", "environment variable holding the hex private key")
	return cmd
}

// HookDataView is the decoded form of hook data
type HookDataView struct {
	OrderID   common.Hash          `json:"orderId"`
	Intent    intent.PaymentIntent `json:"intent"`
	Signature hexutil.Bytes        `json:"signature"`
}

// NewHookDataCommand creates the hookdata command and its pack and unpack subcommands
func NewHookDataCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hookdata",
		Short: "Encode and decode swap hook data",
	}

	var (
		intentFile string
		orderID    string
		signature  string
		useABI     bool
	)
	pack := &cobra.Command{
		Use:   "pack",
		Short: "Encode an intent, order id and signature as hook data",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := readIntent(cmd.InOrStdin(), intentFile)
			if err != nil {
				return err
			}
			id, err := hexutil.Decode(orderID)
			if err != nil || len(id) != common.HashLength {
				return fmt.Errorf("invalid order id %q: want 32 bytes of hex", orderID)
			}
			sig, err := hexutil.Decode(signature)
			if err != nil {
				return fmt.Errorf("invalid signature: %w", err)
			}

			hd := intent.HookData{OrderID: common.BytesToHash(id), Intent: *p, Signature: sig}
			encode := intent.PackHookData
			if useABI {
				encode = intent.EncodeHookDataABI
			}
			data, err := encode(hd)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hexutil.Encode(data))
			return err
		},
	}
	pack.Flags().StringVarP(&intentFile, "intent", "i", "-", "payment intent JSON file, - for stdin")
	pack.Flags().StringVar(&orderID, "order-id", "", "32 byte order id")
	pack.Flags().StringVar(&signature, "signature", "", "intent signature")
	pack.Flags().BoolVar(&useABI, "abi", false, "use the ABI tuple encoding instead of the packed layout")
	_ = pack.MarkFlagRequired("order-id")
	_ = pack.MarkFlagRequired("signature")

	unpack := &cobra.Command{
		Use:   "unpack <hex>",
		Short: "Decode packed or ABI encoded hook data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := hexutil.Decode(strings.TrimSpace(args[0]))
			if err != nil {
				return fmt.Errorf("invalid hook data: %w", err)
			}
			hd, err := intent.DecodeHookData(data)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), HookDataView{
				OrderID:   hd.OrderID,
				Intent:    hd.Intent,
				Signature: hd.Signature,
			})
		},
	}

	cmd.AddCommand(pack, unpack)
	return cmd
}

// readIntent reads a payment intent from path, or from stdin when path is -
func readIntent(stdin io.Reader, path string) (*intent.PaymentIntent, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var p intent.PaymentIntent
	if err := json.NewDecoder(r).Decode(&p); err != nil {
		return nil, fmt.Errorf("failed to parse intent: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func parseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("private key is not set")
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %v", err)
	}
	return key, nil
}
