package settlement

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/speedrun-hq/speedrun-settler/pkg/asset"
	"github.com/speedrun-hq/speedrun-settler/pkg/auth"
	"github.com/speedrun-hq/speedrun-settler/pkg/cctp"
	"github.com/speedrun-hq/speedrun-settler/pkg/intent"
	"github.com/speedrun-hq/speedrun-settler/pkg/ledger"
	"github.com/speedrun-hq/speedrun-settler/pkg/roles"
	"github.com/stretchr/testify/require"
)

const localDomain uint32 = 6

var (
	usdc        = common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	verifying   = common.HexToAddress("0x9999999999999999999999999999999999999999")
	payer       = common.HexToAddress("0x1000000000000000000000000000000000000001")
	feeTo       = common.HexToAddress("0xfee0000000000000000000000000000000000fee")
	custody     = common.HexToAddress("0xc000000000000000000000000000000000000c0d")
	router      = common.HexToAddress("0x2626664c2603336e57b271c5c0b26f421741e481")
	relayerAddr = common.HexToAddress("0x7e1a000000000000000000000000000000007e1a")
	recoverer   = common.HexToAddress("0x5afe00000000000000000000000000000000fafe")
	fixedNow    = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
)

type harness struct {
	t           *testing.T
	ctx         context.Context
	engine      *Engine
	store       ledger.Store
	bank        *asset.MemoryBank
	transmitter *asset.MemoryTransmitter
	registry    *roles.MemoryRegistry
	hasher      *intent.Hasher
	merchantKey *ecdsa.PrivateKey
	operatorKey *ecdsa.PrivateKey
	merchant    common.Address
	operator    common.Address
}

type storeFactory func(t *testing.T) ledger.Store

func memoryStore(*testing.T) ledger.Store {
	return ledger.NewMemoryStore()
}

func sqliteStore(t *testing.T) ledger.Store {
	store, err := ledger.OpenSQLite(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// forEachStore runs fn against every embedded ledger backend
func forEachStore(t *testing.T, fn func(t *testing.T, h *harness)) {
	for name, factory := range map[string]storeFactory{
		"memory": memoryStore,
		"sqlite": sqliteStore,
	} {
		t.Run(name, func(t *testing.T) {
			fn(t, newHarness(t, factory(t)))
		})
	}
}

func newHarness(t *testing.T, store ledger.Store, opts ...Option) *harness {
	t.Helper()

	hasher, err := intent.NewHasher(big.NewInt(8453), verifying)
	require.NoError(t, err)

	merchantKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	operatorKey, err := crypto.GenerateKey()
	require.NoError(t, err)

	registry := roles.NewMemoryRegistry()
	registry.Grant(roles.Operator, crypto.PubkeyToAddress(operatorKey.PublicKey))
	registry.Grant(roles.Relayer, relayerAddr)
	registry.Grant(roles.Recovery, recoverer)

	bank := asset.NewMemoryBank()
	transmitter := asset.NewMemoryTransmitter(bank, usdc)

	cfg := Config{
		Asset:         usdc,
		Custody:       custody,
		Router:        router,
		LocalDomain:   localDomain,
		AssetDecimals: 6,
	}
	opts = append([]Option{WithTransmitter(transmitter), WithClock(func() time.Time { return fixedNow })}, opts...)
	engine := NewEngine(cfg, store, hasher, auth.NewAuthorizer(registry), registry, bank, opts...)

	return &harness{
		t:           t,
		ctx:         context.Background(),
		engine:      engine,
		store:       store,
		bank:        bank,
		transmitter: transmitter,
		registry:    registry,
		hasher:      hasher,
		merchantKey: merchantKey,
		operatorKey: operatorKey,
		merchant:    crypto.PubkeyToAddress(merchantKey.PublicKey),
		operator:    crypto.PubkeyToAddress(operatorKey.PublicKey),
	}
}

// intent returns a merchant-signed FIXED intent for 100 USDC at 100 bps
func (h *harness) intent(mods ...func(p *intent.PaymentIntent)) intent.PaymentIntent {
	p := intent.PaymentIntent{
		Amount:       big.NewInt(100_000000),
		FeeBps:       big.NewInt(100),
		FeeRecipient: feeTo,
		Merchant:     h.merchant,
		Salt:         big.NewInt(1),
		QuantityType: intent.QuantityFixed,
		Quantity:     big.NewInt(1),
		SignerType:   intent.SignerMerchant,
		Signer:       h.merchant,
		Nonce:        big.NewInt(0),
	}
	for _, mod := range mods {
		mod(&p)
	}
	return p
}

func (h *harness) digest(p intent.PaymentIntent) common.Hash {
	h.t.Helper()
	d, err := h.hasher.Hash(&p)
	require.NoError(h.t, err)
	return d
}

// sign signs with the merchant key, or the operator key for OPERATOR intents
func (h *harness) sign(p intent.PaymentIntent) []byte {
	h.t.Helper()
	key := h.merchantKey
	if p.SignerType == intent.SignerOperator {
		key = h.operatorKey
	}
	sig, err := intent.Sign(h.digest(p), key)
	require.NoError(h.t, err)
	return sig
}

func (h *harness) fund(account common.Address, amount int64) {
	h.bank.Mint(usdc, account, big.NewInt(amount))
}

func (h *harness) balance(account common.Address) string {
	return h.bank.Balance(usdc, account).String()
}

func (h *harness) saltRecord(p intent.PaymentIntent) ledger.SaltRecord {
	h.t.Helper()
	rec, err := h.store.SaltRecord(h.ctx, p.SaltKey())
	require.NoError(h.t, err)
	return rec
}

func (h *harness) events(filter ledger.EventFilter) []ledger.Event {
	h.t.Helper()
	events, err := h.store.Events(h.ctx, filter)
	require.NoError(h.t, err)
	return events
}

func (h *harness) redeem(orderID byte, p intent.PaymentIntent) (*Outcome, error) {
	return h.engine.Redeem(h.ctx, RedeemRequest{
		Payer:     payer,
		OrderID:   common.BytesToHash([]byte{orderID}),
		Intent:    p,
		Signature: h.sign(p),
	})
}

type relayMessage struct {
	nonce       byte
	amount      *big.Int
	maxFee      int64
	feeExecuted int64
	recipient   common.Address
	destDomain  uint32
	hook        cctp.HookPayload
}

// relayFor builds a burn-with-hook message bound to p
func (h *harness) relayFor(p intent.PaymentIntent, nonce byte, feeExecuted int64) relayMessage {
	return relayMessage{
		nonce:       nonce,
		amount:      new(big.Int).Set(p.Amount),
		maxFee:      feeExecuted * 2,
		feeExecuted: feeExecuted,
		recipient:   custody,
		destDomain:  localDomain,
		hook: cctp.HookPayload{
			Target:     verifying,
			OrderID:    common.BytesToHash([]byte{0xee, nonce}),
			IntentHash: h.digest(p),
		},
	}
}

func (m relayMessage) encode() []byte {
	burn := &cctp.BurnMessage{
		Version:         cctp.BurnMessageVersion,
		BurnToken:       cctp.AddressToBytes32(common.HexToAddress("0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48")),
		MintRecipient:   cctp.AddressToBytes32(m.recipient),
		Amount:          m.amount,
		MessageSender:   cctp.AddressToBytes32(payer),
		MaxFee:          big.NewInt(m.maxFee),
		FeeExecuted:     big.NewInt(m.feeExecuted),
		ExpirationBlock: big.NewInt(0),
		HookData:        cctp.EncodeHookPayload(m.hook),
	}
	msg := &cctp.Message{
		Version:           cctp.MessageVersion,
		SourceDomain:      0,
		DestinationDomain: m.destDomain,
		Nonce:             common.BytesToHash([]byte{0x4e, m.nonce}),
		Body:              burn.Encode(),
	}
	return msg.Encode()
}

func (m relayMessage) id() common.Hash {
	return common.BytesToHash([]byte{0x4e, m.nonce})
}

func (h *harness) relay(m relayMessage, p intent.PaymentIntent, sig []byte) (*Outcome, error) {
	return h.engine.Relay(h.ctx, RelayRequest{
		Caller:      relayerAddr,
		Message:     m.encode(),
		Attestation: []byte{0xa7},
		Intent:      p,
		Signature:   sig,
	})
}
