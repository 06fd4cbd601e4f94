package cmd

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	"github.com/alphabill-org/ledgercore/internal/node"
	"github.com/alphabill-org/ledgercore/internal/state"
	"github.com/alphabill-org/ledgercore/internal/util"
)

const defaultGenesisFileName = "genesis.json"

type genesisConfig struct {
	Base *baseConfiguration

	OutputFile    string
	Force         bool
	HashAlgorithm string
	Timestamp     uint64
	Rule          string
	Difficulty    uint32
	Allocations   []string
	Validators    []string
}

func newGenesisCmd(baseConfig *baseConfiguration) *cobra.Command {
	config := &genesisConfig{Base: baseConfig}
	var cmd = &cobra.Command{
		Use:   "genesis",
		Short: "Creates the genesis file of a new chain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return genesisRunFunc(config)
		},
	}
	cmd.Flags().StringVarP(&config.OutputFile, "output", "o", "", fmt.Sprintf("path of the genesis file (default: %s)", filepath.Join("$LC_HOME", defaultGenesisFileName)))
	cmd.Flags().BoolVarP(&config.Force, "force", "f", false, "overwrite the existing genesis file")
	cmd.Flags().StringVar(&config.HashAlgorithm, "hash-algorithm", "sha256", "hash algorithm of the chain")
	cmd.Flags().Uint64Var(&config.Timestamp, "timestamp", 0, "genesis block timestamp in unix milliseconds (default: current time)")
	cmd.Flags().StringVar(&config.Rule, "rule", node.RulePoWLeadingZeros, fmt.Sprintf("consensus rule, one of: %s, %s, %s, %s", node.RulePoW, node.RulePoWLeadingZeros, node.RulePoS, node.RuleQuorum))
	cmd.Flags().Uint32Var(&config.Difficulty, "difficulty", 4, "proof of work difficulty: compact target for pow, number of leading zero hex digits for pow-leading-zeros")
	cmd.Flags().StringSliceVar(&config.Allocations, "alloc", nil, "initial balance in form <address>=<amount>, may be repeated")
	cmd.Flags().StringSliceVar(&config.Validators, "validator", nil, "validator in form <public key hex>[:<stake>], may be repeated")
	return cmd
}

func (c *genesisConfig) getOutputFile() string {
	if c.OutputFile != "" {
		return c.OutputFile
	}
	return filepath.Join(c.Base.HomeDir, defaultGenesisFileName)
}

func genesisRunFunc(config *genesisConfig) error {
	file := config.getOutputFile()
	if util.FileExists(file) && !config.Force {
		return fmt.Errorf("genesis file %s already exists, use --force to overwrite", file)
	}
	g, err := config.newGenesis()
	if err != nil {
		return err
	}
	if err := validateGenesis(g); err != nil {
		return fmt.Errorf("invalid genesis: %w", err)
	}
	if err := g.Save(file); err != nil {
		return fmt.Errorf("saving genesis: %w", err)
	}
	consoleWriter.Println(fmt.Sprintf("genesis written to %s", file))
	return nil
}

func (c *genesisConfig) newGenesis() (*node.Genesis, error) {
	g := &node.Genesis{
		HashAlgorithm: c.HashAlgorithm,
		Timestamp:     c.Timestamp,
		Consensus:     &node.ConsensusParams{Rule: c.Rule},
	}
	if g.Timestamp == 0 {
		g.Timestamp = uint64(time.Now().UnixMilli())
	}
	switch c.Rule {
	case node.RulePoW, node.RulePoWLeadingZeros:
		g.Consensus.Difficulty = c.Difficulty
	}
	for _, s := range c.Allocations {
		alloc, err := parseAllocation(s)
		if err != nil {
			return nil, err
		}
		g.Allocations = append(g.Allocations, alloc)
	}
	for _, s := range c.Validators {
		v, err := parseValidator(s)
		if err != nil {
			return nil, err
		}
		g.Consensus.Validators = append(g.Consensus.Validators, v)
	}
	return g, nil
}

// validateGenesis builds the genesis state and the consensus rule the way
// the node does on startup.
func validateGenesis(g *node.Genesis) error {
	alg, err := g.HashAlg()
	if err != nil {
		return err
	}
	ledger, err := state.NewLedger(alg)
	if err != nil {
		return err
	}
	if _, _, err := g.Build(ledger); err != nil {
		return err
	}
	_, err = g.NewRule()
	return err
}

func parseAllocation(s string) (*node.GenesisAllocation, error) {
	addr, amount, ok := strings.Cut(s, "=")
	if !ok {
		return nil, fmt.Errorf("invalid allocation %q, expected <address>=<amount>", s)
	}
	v, err := strconv.ParseUint(amount, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid allocation amount %q: %w", amount, err)
	}
	return &node.GenesisAllocation{Address: addr, Amount: v}, nil
}

func parseValidator(s string) (*node.ValidatorEntry, error) {
	pubKey, stake, hasStake := strings.Cut(s, ":")
	key, err := hexutil.Decode(pubKey)
	if err != nil {
		return nil, fmt.Errorf("invalid validator public key %q: %w", pubKey, err)
	}
	v := &node.ValidatorEntry{PubKey: key}
	if hasStake {
		if v.Stake, err = strconv.ParseUint(stake, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid validator stake %q: %w", stake, err)
		}
	}
	return v, nil
}
