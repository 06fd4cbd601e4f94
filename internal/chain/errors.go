package chain

import (
	"errors"
	"fmt"

	"github.com/alphabill-org/ledgercore/internal/crypto"
)

type RejectCode string

const (
	UnknownParent   RejectCode = "UnknownParent"
	DuplicateHeader RejectCode = "DuplicateHeader"
)

var (
	ErrNotFound      = errors.New("block not found")
	ErrNotDescendant = errors.New("block is not a descendant")
	errStorageIsNil  = errors.New("storage is nil")
	errGenesisIsNil  = errors.New("genesis block is nil")
)

// RejectedHeaderError is returned by Insert for a block which cannot be linked into the tree.
type RejectedHeaderError struct {
	Code RejectCode
	Hash crypto.Hash
}

func (e *RejectedHeaderError) Error() string {
	return fmt.Sprintf("block %s rejected: %s", e.Hash.Short(), e.Code)
}

func (e *RejectedHeaderError) Is(target error) bool {
	t, ok := target.(*RejectedHeaderError)
	return ok && t.Code == e.Code
}
