package cmd

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/alphabill-org/ledgercore/internal/account"
	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/network"
	"github.com/alphabill-org/ledgercore/internal/util"
)

const (
	secp256k1 = "secp256k1"

	mnemonicCmdFlag     = "mnemonic"
	forceKeyGenCmdFlag  = "force"
	keyFileCmdFlag      = "key-file"
	passphraseCmdFlag   = "passphrase"
	defaultKeysFileName = "keys.json"
)

type (
	// Keys are the account key signing transactions and blocks and the
	// peer key identifying the node in the p2p network.
	Keys struct {
		Mnemonic   string
		AccountKey *account.AccountKey
		PeerKey    *network.PeerKeyPair
	}

	keysConfig struct {
		Base            *baseConfiguration
		KeyFilePath     string
		Passphrase      string
		Mnemonic        string
		ForceGeneration bool
	}

	keyFile struct {
		// private keys and mnemonic are encrypted with the passphrase
		Encrypted      bool   `json:"encrypted,omitempty"`
		Mnemonic       string `json:"mnemonic,omitempty"`
		DerivationPath string `json:"derivationPath,omitempty"`
		AccountKey     key    `json:"account"`
		PeerKey        key    `json:"peer"`
	}

	key struct {
		Algorithm  string `json:"algorithm"`
		PrivateKey string `json:"privateKey"`
	}
)

func newKeysCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &keysConfig{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "keys",
		Short: "Manages the account and peer keys",
	}
	cmd.AddCommand(newKeysGenerateCmd(config))
	cmd.AddCommand(newKeysShowCmd(config))
	return cmd
}

func newKeysGenerateCmd(config *keysConfig) *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "generate",
		Short: "Generates a new key file",
		Long:  `Derives the account key from the mnemonic (a new mnemonic is generated when not given) and generates a new peer key.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return keysGenerateRunFunc(config)
		},
	}
	config.addKeyFileFlags(cmd)
	cmd.Flags().StringVar(&config.Mnemonic, mnemonicCmdFlag, "", "BIP-39 mnemonic the account key is derived from")
	cmd.Flags().BoolVarP(&config.ForceGeneration, forceKeyGenCmdFlag, "f", false, "overwrite the existing key file")
	return cmd
}

func newKeysShowCmd(config *keysConfig) *cobra.Command {
	var hashAlgorithm string
	var cmd = &cobra.Command{
		Use:   "show",
		Short: "Prints the public keys and the account address",
		RunE: func(cmd *cobra.Command, args []string) error {
			return keysShowRunFunc(config, hashAlgorithm)
		},
	}
	config.addKeyFileFlags(cmd)
	cmd.Flags().StringVar(&hashAlgorithm, "hash-algorithm", "sha256", "hash algorithm of the chain, the address depends on it")
	return cmd
}

func (c *keysConfig) addKeyFileFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&c.KeyFilePath, keyFileCmdFlag, "k", "", fmt.Sprintf("path to the keys file (default: %s)", filepath.Join("$LC_HOME", defaultKeysFileName)))
	cmd.Flags().StringVar(&c.Passphrase, passphraseCmdFlag, "", "passphrase protecting the private keys in the key file")
}

func (c *keysConfig) GetKeyFileLocation() string {
	if c.KeyFilePath != "" {
		return c.KeyFilePath
	}
	return filepath.Join(c.Base.HomeDir, defaultKeysFileName)
}

func keysGenerateRunFunc(config *keysConfig) error {
	file := config.GetKeyFileLocation()
	if util.FileExists(file) && !config.ForceGeneration {
		return fmt.Errorf("key file %s already exists, use --%s to overwrite", file, forceKeyGenCmdFlag)
	}
	keys, err := GenerateKeys(config.Mnemonic)
	if err != nil {
		return err
	}
	if err := keys.WriteTo(file, config.Passphrase); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	consoleWriter.Println(fmt.Sprintf("keys written to %s", file))
	if config.Mnemonic == "" {
		consoleWriter.Println(fmt.Sprintf("mnemonic: %s", keys.Mnemonic))
	}
	return nil
}

func keysShowRunFunc(config *keysConfig, hashAlgorithm string) error {
	alg, err := crypto.HashAlgorithmFromString(hashAlgorithm)
	if err != nil {
		return err
	}
	keys, err := LoadKeys(config.GetKeyFileLocation(), config.Passphrase)
	if err != nil {
		return err
	}
	peerID, err := network.NodeIDFromPublicKeyBytes(keys.PeerKey.PublicKey)
	if err != nil {
		return fmt.Errorf("peer id: %w", err)
	}
	consoleWriter.Println(fmt.Sprintf("address: %s", keys.AccountKey.Address(alg)))
	consoleWriter.Println(fmt.Sprintf("public key: %s", hexutil.Encode(keys.AccountKey.PubKey)))
	consoleWriter.Println(fmt.Sprintf("derivation path: %s", keys.AccountKey.DerivationPath))
	consoleWriter.Println(fmt.Sprintf("peer id: %s", peerID))
	return nil
}

// GenerateKeys derives the account key from mnemonic and generates a new
// peer key. A new mnemonic is generated when it is empty.
func GenerateKeys(mnemonic string) (*Keys, error) {
	accKeys, err := account.NewKeys(mnemonic)
	if err != nil {
		return nil, err
	}
	peerKey, err := network.GeneratePeerKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating peer key: %w", err)
	}
	return &Keys{Mnemonic: accKeys.Mnemonic, AccountKey: accKeys.AccountKey, PeerKey: peerKey}, nil
}

// LoadKeys reads the key file, passphrase must be given when the file is encrypted.
func LoadKeys(file, passphrase string) (*Keys, error) {
	if !util.FileExists(file) {
		return nil, fmt.Errorf("keys file %s not found", file)
	}
	kf, err := util.ReadJsonFile(file, &keyFile{})
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	if kf.AccountKey.Algorithm != secp256k1 {
		return nil, fmt.Errorf("account key algorithm %v is not supported", kf.AccountKey.Algorithm)
	}
	if kf.PeerKey.Algorithm != secp256k1 {
		return nil, fmt.Errorf("peer key algorithm %v is not supported", kf.PeerKey.Algorithm)
	}
	if kf.Encrypted && passphrase == "" {
		return nil, errors.New("key file is encrypted, passphrase is required")
	}

	decode := func(s string) ([]byte, error) {
		if kf.Encrypted {
			return crypto.Decrypt(passphrase, s)
		}
		return hexutil.Decode(s)
	}
	accPrivKey, err := decode(kf.AccountKey.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding account key: %w", err)
	}
	accKey, err := account.NewAccountKeyFromPrivateKey(accPrivKey, kf.DerivationPath)
	if err != nil {
		return nil, fmt.Errorf("invalid account key: %w", err)
	}
	peerPrivKey, err := decode(kf.PeerKey.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("decoding peer key: %w", err)
	}
	peerKey, err := network.PeerKeyPairFromPrivateKey(peerPrivKey)
	if err != nil {
		return nil, fmt.Errorf("invalid peer key: %w", err)
	}

	keys := &Keys{AccountKey: accKey, PeerKey: peerKey}
	if kf.Mnemonic != "" {
		mnemonic, err := decode(kf.Mnemonic)
		if err != nil {
			return nil, fmt.Errorf("decoding mnemonic: %w", err)
		}
		keys.Mnemonic = string(mnemonic)
	}
	return keys, nil
}

// WriteTo saves the keys into file, private keys are encrypted when
// passphrase is not empty.
func (k *Keys) WriteTo(file, passphrase string) error {
	encode := func(b []byte) (string, error) {
		if passphrase != "" {
			return crypto.Encrypt(passphrase, b)
		}
		return hexutil.Encode(b), nil
	}
	kf := &keyFile{
		Encrypted:      passphrase != "",
		DerivationPath: k.AccountKey.DerivationPath,
		AccountKey:     key{Algorithm: secp256k1},
		PeerKey:        key{Algorithm: secp256k1},
	}
	var err error
	if kf.AccountKey.PrivateKey, err = encode(k.AccountKey.PrivKey); err != nil {
		return err
	}
	if kf.PeerKey.PrivateKey, err = encode(k.PeerKey.PrivateKey); err != nil {
		return err
	}
	if k.Mnemonic != "" {
		if kf.Mnemonic, err = encode([]byte(k.Mnemonic)); err != nil {
			return err
		}
	}
	return util.WriteJsonFile(file, kf)
}
