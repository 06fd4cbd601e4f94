package types

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alphabill-org/ledgercore/internal/crypto"
	"github.com/alphabill-org/ledgercore/internal/mt"
)

func validHeader() *Header {
	return &Header{
		Version:    HeaderVersion,
		ParentHash: crypto.Hash{1},
		Height:     1,
		Timestamp:  1000,
		Proposer:   []byte{2},
	}
}

func TestHeader_IsValid(t *testing.T) {
	require.NoError(t, validHeader().IsValid())

	tests := []struct {
		name   string
		modify func(h *Header)
	}{
		{name: "version", modify: func(h *Header) { h.Version = 0 }},
		{name: "height", modify: func(h *Header) { h.Height = 0 }},
		{name: "parent", modify: func(h *Header) { h.ParentHash = crypto.ZeroHash }},
		{name: "timestamp", modify: func(h *Header) { h.Timestamp = 0 }},
		{name: "proposer", modify: func(h *Header) { h.Proposer = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := validHeader()
			tt.modify(h)
			require.ErrorIs(t, h.IsValid(), &StructuralError{Code: InvalidHeader})
		})
	}
	var h *Header
	require.ErrorIs(t, h.IsValid(), &StructuralError{Code: InvalidHeader})
}

func TestHeader_SigBytesIgnoreSignatures(t *testing.T) {
	h := validHeader()
	sb1, err := h.SigBytes()
	require.NoError(t, err)
	id1 := h.Hash(alg)

	tests := []struct {
		name string
		sigs [][]byte
	}{
		{name: "one signature", sigs: [][]byte{{1, 2, 3}}},
		{name: "signature set with gaps", sigs: [][]byte{{1}, nil, {3}}},
		{name: "signature dropped", sigs: [][]byte{{1}, nil, nil}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := *h
			c.Signatures = tt.sigs
			sb, err := c.SigBytes()
			require.NoError(t, err)
			require.Equal(t, sb1, sb)
			require.Equal(t, id1, c.Hash(alg))
		})
	}

	h.Nonce = 5
	sb3, err := h.SigBytes()
	require.NoError(t, err)
	require.NotEqual(t, sb1, sb3)
	require.NotEqual(t, id1, h.Hash(alg))
}

func TestBlock_TxRootAndProof(t *testing.T) {
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	b := &Block{Header: validHeader()}
	for i := 1; i <= 3; i++ {
		b.Transactions = append(b.Transactions, newSignedTx(t, signer, uint64(i), 5, 1))
	}
	b.Header.TxRoot = b.TxRoot(alg)
	require.NoError(t, b.IsValid(alg))

	path, err := b.InclusionProof(alg, 2)
	require.NoError(t, err)
	require.Equal(t, b.Header.TxRoot, mt.EvalMerklePath(path, b.Transactions[2].Hash(alg), alg))

	empty := &Block{Header: validHeader()}
	require.Equal(t, crypto.ZeroHash, empty.TxRoot(alg))
}

func TestBlock_IsValidReportsTransaction(t *testing.T) {
	signer, err := crypto.NewInMemorySecp256K1Signer()
	require.NoError(t, err)
	tx := newSignedTx(t, signer, 1, 5, 1)
	tx.Outputs = nil
	b := &Block{Header: validHeader(), Transactions: []*Transaction{tx}}
	err = b.IsValid(alg)
	require.ErrorIs(t, err, &StructuralError{Code: EmptyOutputs})
	require.ErrorContains(t, err, "transaction 0")

	var nilBlock *Block
	require.ErrorIs(t, nilBlock.IsValid(alg), &StructuralError{Code: Malformed})
}

func TestDecodeBlock(t *testing.T) {
	b := &Block{Header: validHeader()}
	data, err := b.Bytes()
	require.NoError(t, err)
	decoded, err := DecodeBlock(data)
	require.NoError(t, err)
	require.Equal(t, b.Hash(alg), decoded.Hash(alg))
	require.Equal(t, uint64(1), decoded.Height())

	data, err = (&Block{}).Bytes()
	require.NoError(t, err)
	_, err = DecodeBlock(data)
	require.ErrorIs(t, err, &StructuralError{Code: InvalidHeader})
}
