package testtransaction

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	testsig "github.com/alphabill-org/ledgercore/internal/testutils/sig"
	"github.com/alphabill-org/ledgercore/internal/types"
)

const HashAlgorithm = crypto.DefaultHashAlgorithm

// Wallet is a test account owner.
type Wallet struct {
	Signer  crypto.Signer
	PubKey  []byte
	Address types.Address
}

type Option func(*types.Transaction)

func NewWallet(t *testing.T) *Wallet {
	signer, verifier := testsig.CreateSignerAndVerifier(t)
	pub, err := verifier.MarshalPublicKey()
	require.NoError(t, err)
	return &Wallet{Signer: signer, PubKey: pub, Address: types.NewAddress(HashAlgorithm, pub)}
}

// NewMLDSA44Wallet returns a wallet with a post-quantum ML-DSA-44 key.
func NewMLDSA44Wallet(t *testing.T) *Wallet {
	signer, err := crypto.NewInMemoryMLDSA44Signer()
	require.NoError(t, err)
	verifier, err := signer.Verifier()
	require.NoError(t, err)
	pub, err := verifier.MarshalPublicKey()
	require.NoError(t, err)
	return &Wallet{Signer: signer, PubKey: pub, Address: types.NewAddress(HashAlgorithm, pub)}
}

// NewWallets returns n wallets.
func NewWallets(t *testing.T, n int) []*Wallet {
	res := make([]*Wallet, n)
	for i := range res {
		res[i] = NewWallet(t)
	}
	return res
}

func WithTimestamp(ts uint64) Option {
	return func(tx *types.Transaction) {
		tx.Timestamp = ts
	}
}

// WithOutput adds another recipient, the input is increased to cover it.
func WithOutput(to types.Address, amount uint64) Option {
	return func(tx *types.Transaction) {
		tx.Outputs = append(tx.Outputs, &types.Output{Recipient: to, Amount: amount})
		tx.Inputs[0].Amount += amount
	}
}

// NewTransfer returns a signed transaction paying amount to "to" with the fee on top.
func NewTransfer(t *testing.T, from *Wallet, nonce uint64, to types.Address, amount, fee uint64, opts ...Option) *types.Transaction {
	t.Helper()
	tx := &types.Transaction{
		Nonce:   nonce,
		Inputs:  []*types.Input{{Account: from.Address, Amount: amount + fee}},
		Outputs: []*types.Output{{Recipient: to, Amount: amount}},
		Fee:     fee,
	}
	for _, opt := range opts {
		opt(tx)
	}
	require.NoError(t, tx.Sign(from.Signer))
	return tx
}
