package account

import (
	gocrypto "crypto"
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	acc "github.com/ethereum/go-ethereum/accounts"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/types"
)

const mnemonicEntropyBitSize = 128

var ErrInvalidMnemonic = errors.New("invalid mnemonic")

type (
	Keys struct {
		Mnemonic   string
		MasterKey  *hdkeychain.ExtendedKey
		AccountKey *AccountKey
	}

	AccountKey struct {
		PubKey         []byte // compressed secp256k1 key 33 bytes
		PrivKey        []byte
		DerivationPath string
	}
)

// NewKeys derives the keys of the first account from mnemonic, a new
// mnemonic is generated when it is empty.
func NewKeys(mnemonic string) (*Keys, error) {
	if mnemonic == "" {
		var err error
		if mnemonic, err = generateMnemonic(); err != nil {
			return nil, err
		}
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return nil, err
	}

	// only HDPrivateKeyID is used from chaincfg.MainNetParams,
	// it is used as version flag in extended key, which in turn is used to identify the extended key's type.
	masterKey, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, err
	}
	ac, err := NewAccountKey(masterKey, NewDerivationPath(0))
	if err != nil {
		return nil, err
	}
	return &Keys{Mnemonic: mnemonic, MasterKey: masterKey, AccountKey: ac}, nil
}

// NewAccountKey derives the account key of the derivation path.
func NewAccountKey(masterKey *hdkeychain.ExtendedKey, derivationPath string) (*AccountKey, error) {
	path, err := acc.ParseDerivationPath(derivationPath)
	if err != nil {
		return nil, err
	}
	privateKey, err := derivePrivateKey(path, masterKey)
	if err != nil {
		return nil, err
	}
	return NewAccountKeyFromPrivateKey(ethcrypto.FromECDSA(privateKey), derivationPath)
}

// NewAccountKeyFromPrivateKey restores the account key of a secp256k1
// private key, derivationPath is informational.
func NewAccountKeyFromPrivateKey(privKey []byte, derivationPath string) (*AccountKey, error) {
	signer, err := crypto.NewInMemorySecp256K1SignerFromKey(privKey)
	if err != nil {
		return nil, err
	}
	verifier, err := signer.Verifier()
	if err != nil {
		return nil, err
	}
	pubKey, err := verifier.MarshalPublicKey()
	if err != nil {
		return nil, err
	}
	return &AccountKey{PubKey: pubKey, PrivKey: privKey, DerivationPath: derivationPath}, nil
}

// NewDerivationPath returns the BIP-44 path of the account:
// m / purpose' / coin_type' / account' / change / address_index
func NewDerivationPath(accountIndex uint64) string {
	return fmt.Sprintf("m/44'/634'/%d'/0/0", accountIndex)
}

func (k *AccountKey) Signer() (crypto.Signer, error) {
	return crypto.NewInMemorySecp256K1SignerFromKey(k.PrivKey)
}

// Address is the ledger account controlled by the key.
func (k *AccountKey) Address(hashAlgorithm gocrypto.Hash) types.Address {
	return types.NewAddress(hashAlgorithm, k.PubKey)
}

func generateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(mnemonicEntropyBitSize)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

func derivePrivateKey(path acc.DerivationPath, masterKey *hdkeychain.ExtendedKey) (*ecdsa.PrivateKey, error) {
	var err error
	var derivedKey = masterKey
	for _, n := range path {
		derivedKey, err = derivedKey.Derive(n)
		if err != nil {
			return nil, err
		}
	}
	privateKey, err := derivedKey.ECPrivKey()
	if err != nil {
		return nil, err
	}
	return privateKey.ToECDSA(), nil
}
