package chain

import (
	"fmt"

	"github.com/majorcontext/sigchain/internal/keys"
)

// Result summarizes a full verification of a chain.
type Result struct {
	Valid       bool `json:"valid"`
	LinksValid  bool `json:"links_valid"`
	HashesValid bool `json:"hashes_valid"`
	// SignaturesChecked is false when no trust set was given; Valid then
	// says nothing about authorship.
	SignaturesChecked bool   `json:"signatures_checked"`
	SignaturesValid   bool   `json:"signatures_valid"`
	BlockCount        int    `json:"block_count"`
	TrustedKeyCount   int    `json:"trusted_key_count"`
	FailedBlock       *int32 `json:"failed_block,omitempty"`
	// Rejected is set when a bundle is refused before any check runs,
	// e.g. for an unknown version. The pass flags are then meaningless.
	Rejected bool   `json:"rejected,omitempty"`
	Error    string `json:"error,omitempty"`
}

// Audit runs VerifyLinks, VerifyWithHashes and, when trusted is non-empty,
// VerifyWithKeys, stopping at the first failing pass.
func Audit(c *Chain, trusted []keys.Verifier) *Result {
	result := &Result{
		Valid:             true,
		LinksValid:        true,
		HashesValid:       true,
		SignaturesChecked: len(trusted) > 0,
		SignaturesValid:   len(trusted) > 0,
		BlockCount:        c.Len(),
		TrustedKeyCount:   len(trusted),
	}

	fail := func(err error, flag *bool) *Result {
		result.Valid = false
		*flag = false
		result.Error = err.Error()
		if verr, ok := err.(*VerifyError); ok {
			id := verr.ID
			result.FailedBlock = &id
		}
		return result
	}

	if err := c.VerifyLinks(); err != nil {
		return fail(err, &result.LinksValid)
	}
	if err := c.VerifyWithHashes(); err != nil {
		return fail(err, &result.HashesValid)
	}
	if len(trusted) > 0 {
		if err := c.VerifyWithKeys(trusted); err != nil {
			return fail(err, &result.SignaturesValid)
		}
	}
	return result
}

// Auditor verifies the chain held in a block store.
type Auditor struct {
	store *Store
}

// NewAuditor opens the store at dbPath for auditing.
func NewAuditor(dbPath string) (*Auditor, error) {
	store, err := OpenStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &Auditor{store: store}, nil
}

// Close closes the auditor's store.
func (a *Auditor) Close() error {
	return a.store.Close()
}

// Verify loads the stored chain and audits it against trusted.
// Verification failures are reported in the Result; the error is for I/O problems.
func (a *Auditor) Verify(trusted []keys.Verifier) (*Result, error) {
	c, err := a.store.Load()
	if err != nil {
		return nil, fmt.Errorf("loading chain: %w", err)
	}
	return Audit(c, trusted), nil
}
