package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/rpc"
	"github.com/alphabill-org/ledgercore/internal/types"
)

const (
	nodeURLCmdFlag       = "node-url"
	hashAlgorithmCmdFlag = "hash-algorithm"
	defaultNodeURL       = "http://" + defaultRESTAddress
)

type walletConfig struct {
	Keys          *keysConfig
	NodeURL       string
	HashAlgorithm string
}

func (c *walletConfig) addWalletFlags(cmd *cobra.Command) {
	c.Keys.addKeyFileFlags(cmd)
	cmd.Flags().StringVarP(&c.NodeURL, nodeURLCmdFlag, "u", defaultNodeURL, "REST API URL of the node")
	cmd.Flags().StringVar(&c.HashAlgorithm, hashAlgorithmCmdFlag, "sha256", "hash algorithm of the chain, the address depends on it")
}

// account returns the key of the key file and its address.
func (c *walletConfig) account() (*Keys, types.Address, error) {
	alg, err := crypto.HashAlgorithmFromString(c.HashAlgorithm)
	if err != nil {
		return nil, types.Address{}, err
	}
	keys, err := LoadKeys(c.Keys.GetKeyFileLocation(), c.Keys.Passphrase)
	if err != nil {
		return nil, types.Address{}, fmt.Errorf("loading keys: %w", err)
	}
	return keys, keys.AccountKey.Address(alg), nil
}

func newSendCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &walletConfig{Keys: &keysConfig{Base: baseConfig}}
	var (
		to     string
		amount uint64
		fee    uint64
	)
	var cmd = &cobra.Command{
		Use:   "send",
		Short: "Sends funds from the account of the key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			receiver, err := types.AddressFromString(to)
			if err != nil {
				return err
			}
			return sendRunFunc(cmd, config, receiver, amount, fee)
		},
	}
	config.addWalletFlags(cmd)
	cmd.Flags().StringVar(&to, "to", "", "receiver address")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to send")
	cmd.Flags().Uint64Var(&fee, "fee", 1, "transaction fee")
	_ = cmd.MarkFlagRequired("to")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func sendRunFunc(cmd *cobra.Command, config *walletConfig, to types.Address, amount, fee uint64) error {
	keys, from, err := config.account()
	if err != nil {
		return err
	}
	signer, err := keys.AccountKey.Signer()
	if err != nil {
		return err
	}
	client, err := rpc.NewClient(config.NodeURL)
	if err != nil {
		return err
	}
	acc, err := client.GetAccount(cmd.Context(), from)
	if err != nil {
		return err
	}
	tx := &types.Transaction{
		Nonce:     acc.NextNonce,
		Inputs:    []*types.Input{{Account: from, Amount: amount + fee}},
		Outputs:   []*types.Output{{Recipient: to, Amount: amount}},
		Fee:       fee,
		Timestamp: uint64(time.Now().UnixMilli()),
	}
	if err := tx.Sign(signer); err != nil {
		return err
	}
	txHash, err := client.SubmitTransaction(cmd.Context(), tx)
	if err != nil {
		return err
	}
	consoleWriter.Println(fmt.Sprintf("transaction %s submitted", txHash))
	return nil
}

func newBalanceCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &walletConfig{Keys: &keysConfig{Base: baseConfig}}
	var address string
	var cmd = &cobra.Command{
		Use:   "balance",
		Short: "Prints the balance of an account",
		Long:  `Prints the balance of the given address, or of the account of the key file when the address is not given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return balanceRunFunc(cmd, config, address)
		},
	}
	config.addWalletFlags(cmd)
	cmd.Flags().StringVar(&address, "address", "", "account address")
	return cmd
}

func balanceRunFunc(cmd *cobra.Command, config *walletConfig, address string) error {
	var addr types.Address
	var err error
	if address != "" {
		addr, err = types.AddressFromString(address)
	} else {
		_, addr, err = config.account()
	}
	if err != nil {
		return err
	}
	client, err := rpc.NewClient(config.NodeURL)
	if err != nil {
		return err
	}
	acc, err := client.GetAccount(cmd.Context(), addr)
	if err != nil {
		return err
	}
	consoleWriter.Println(fmt.Sprintf("%s: balance %d, next nonce %d", acc.Address, acc.Balance, acc.NextNonce))
	return nil
}
