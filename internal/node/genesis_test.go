package node

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/ledgercore/internal/consensus"
	testsig "github.com/alphabill-org/ledgercore/internal/testutils/sig"
	testtransaction "github.com/alphabill-org/ledgercore/internal/testutils/transaction"
)

func TestGenesis_SaveAndLoad(t *testing.T) {
	_, pubKeys := testsig.CreateSigners(t, 2)
	g := testGenesis(newAccounts(t))
	g.HashAlgorithm = "sha3-256"
	g.Consensus = &ConsensusParams{Rule: RulePoS, Validators: []*ValidatorEntry{
		{PubKey: pubKeys[0], Stake: 10},
		{PubKey: pubKeys[1], Stake: 20},
	}}
	path := filepath.Join(t.TempDir(), "genesis.json")
	require.NoError(t, g.Save(path))

	loaded, err := LoadGenesis(path)
	require.NoError(t, err)
	require.Equal(t, g, loaded)

	_, err = LoadGenesis(filepath.Join(t.TempDir(), "missing.json"))
	require.ErrorContains(t, err, "loading genesis file")
}

func TestGenesis_HashAlg(t *testing.T) {
	alg, err := (&Genesis{}).HashAlg()
	require.NoError(t, err)
	require.Equal(t, testtransaction.HashAlgorithm, alg)
	_, err = (&Genesis{HashAlgorithm: "md5"}).HashAlg()
	require.Error(t, err)
}

func TestGenesis_NewRule(t *testing.T) {
	signers, pubKeys := testsig.CreateSigners(t, 3)
	validators := []*ValidatorEntry{{PubKey: pubKeys[0], Stake: 1}, {PubKey: pubKeys[1], Stake: 2}, {PubKey: pubKeys[2], Stake: 3}}

	tests := []struct {
		name     string
		params   *ConsensusParams
		signers  int
		wantName string
		wantErr  string
	}{
		{name: "no params", wantErr: "genesis has no consensus parameters"},
		{name: "unknown", params: &ConsensusParams{Rule: "pbft"}, wantErr: `unknown consensus rule "pbft"`},
		{name: "pow", params: &ConsensusParams{Rule: RulePoW, Difficulty: 0x1f00ffff}, wantName: RulePoW},
		{name: "pow invalid difficulty", params: &ConsensusParams{Rule: RulePoW}, wantErr: "pow rule:"},
		{name: "leading zeros", params: &ConsensusParams{Rule: RulePoWLeadingZeros, Difficulty: 2}, wantName: RulePoWLeadingZeros},
		{name: "leading zeros out of range", params: &ConsensusParams{Rule: RulePoWLeadingZeros, Difficulty: 64}, wantErr: "leading zeros must be in range"},
		{name: "pos", params: &ConsensusParams{Rule: RulePoS, Validators: validators}, signers: 1, wantName: RulePoS},
		{name: "pos without stake", params: &ConsensusParams{Rule: RulePoS, Validators: []*ValidatorEntry{{PubKey: pubKeys[0]}}}, wantErr: "validator 0 has no stake"},
		{name: "quorum", params: &ConsensusParams{Rule: RuleQuorum, Validators: validators}, signers: 3, wantName: RuleQuorum},
		{name: "quorum empty", params: &ConsensusParams{Rule: RuleQuorum}, wantErr: "validator set is empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Genesis{Consensus: tt.params}
			rule, err := g.NewRule(signers[:tt.signers]...)
			if tt.wantErr != "" {
				require.ErrorContains(t, err, tt.wantErr)
				require.Nil(t, rule)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantName, rule.Name())
		})
	}
}

func TestNode_ProofOfStake(t *testing.T) {
	signers, pubKeys := testsig.CreateSigners(t, 2)
	acc := newAccounts(t)
	g := testGenesis(acc)
	g.Consensus = &ConsensusParams{Rule: RulePoS, Validators: []*ValidatorEntry{{PubKey: pubKeys[0], Stake: 5}, {PubKey: pubKeys[1], Stake: 7}}}

	rule, err := g.NewRule(signers[1])
	require.NoError(t, err)
	n, err := New(g, rule, WithClock(func() time.Time { return now }), WithBlockProduction(pubKeys[1], 0))
	require.NoError(t, err)
	defer func() { require.NoError(t, n.Close()) }()

	transfer(t, n, acc.alice, acc.bob.Address, 30)
	b := propose(t, n)
	require.Equal(t, []byte(pubKeys[1]), b.Header.Proposer)
	require.Len(t, b.Header.Signatures, 1)
	require.EqualValues(t, 30, n.GetBalance(acc.bob.Address))

	// a validator without local key can verify but not seal
	verifier, err := g.NewRule()
	require.NoError(t, err)
	other, err := New(g, verifier, WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	defer func() { require.NoError(t, other.Close()) }()
	res, err := other.ReceiveBlock(context.Background(), blockBytes(t, b))
	require.NoError(t, err)
	require.Equal(t, consensus.AcceptedReorg, res.Outcome)
	require.EqualValues(t, 30, other.GetBalance(acc.bob.Address))
}
