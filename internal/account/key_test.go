package account

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tyler-smith/go-bip39"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/types"
)

const (
	testMnemonic   = "dinosaur simple verify deliver bless ridge monkey design venue six problem lucky"
	testPubKey0Hex = "03c30573dc0c7fd43fcb801289a6a96cb78c27f4ba398b89da91ece23e9a99aca3"
	testPubKey1Hex = "02d36c574db299904b285aaeb57eb7b1fa145c43af90bec3c635c4174c224587b6"
)

func TestNewKeys_FromMnemonic(t *testing.T) {
	keys, err := NewKeys(testMnemonic)
	require.NoError(t, err)
	require.Equal(t, testMnemonic, keys.Mnemonic)
	require.Equal(t, "m/44'/634'/0'/0/0", keys.AccountKey.DerivationPath)
	require.Equal(t, testPubKey0Hex, hex.EncodeToString(keys.AccountKey.PubKey))

	ac, err := NewAccountKey(keys.MasterKey, NewDerivationPath(1))
	require.NoError(t, err)
	require.Equal(t, testPubKey1Hex, hex.EncodeToString(ac.PubKey))
}

func TestNewKeys_Generated(t *testing.T) {
	keys, err := NewKeys("")
	require.NoError(t, err)
	require.True(t, bip39.IsMnemonicValid(keys.Mnemonic))

	// same mnemonic gives the same keys
	again, err := NewKeys(keys.Mnemonic)
	require.NoError(t, err)
	require.Equal(t, keys.AccountKey, again.AccountKey)

	_, err = NewKeys("not a valid mnemonic")
	require.ErrorIs(t, err, ErrInvalidMnemonic)
}

func TestAccountKey_SignerAndAddress(t *testing.T) {
	keys, err := NewKeys(testMnemonic)
	require.NoError(t, err)
	signer, err := keys.AccountKey.Signer()
	require.NoError(t, err)

	sig, err := signer.SignBytes([]byte("data"))
	require.NoError(t, err)
	require.NoError(t, crypto.Verify(keys.AccountKey.PubKey, sig, []byte("data")))

	addr := keys.AccountKey.Address(crypto.DefaultHashAlgorithm)
	require.Equal(t, types.NewAddress(crypto.DefaultHashAlgorithm, keys.AccountKey.PubKey), addr)
}

func TestNewAccountKeyFromPrivateKey(t *testing.T) {
	keys, err := NewKeys(testMnemonic)
	require.NoError(t, err)

	restored, err := NewAccountKeyFromPrivateKey(keys.AccountKey.PrivKey, keys.AccountKey.DerivationPath)
	require.NoError(t, err)
	require.Equal(t, keys.AccountKey, restored)

	_, err = NewAccountKeyFromPrivateKey([]byte{1, 2, 3}, "")
	require.Error(t, err)
}
