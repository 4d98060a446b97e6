// Package coordinator is the registry shared by every loan issuer: it owns the
// nonce space of each offer type, allocates loan identifiers, tracks loan
// status and mints the claim and obligation tokens bound to each loan.
package coordinator

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nftlend/core/events"
	"nftlend/crypto"
)

var (
	ErrInvalidNonce          = errors.New("coordinator: invalid nonce")
	ErrInvalidLoanID         = errors.New("coordinator: invalid loan id")
	ErrLoanAlreadyRegistered = errors.New("coordinator: loan already registered")
	ErrLoanNotActive         = errors.New("coordinator: loan not active")
	ErrUnknownOfferType      = errors.New("coordinator: unknown offer type")
	ErrUnknownIssuer         = errors.New("coordinator: caller is not a registered issuer")
	ErrNotLoanIssuer         = errors.New("coordinator: caller did not originate the loan")
	ErrIssuerTypeMismatch    = errors.New("coordinator: issuer already registered for another offer type")
	ErrTokenAlreadyMinted    = errors.New("coordinator: token already minted")
	ErrTokenNotFound         = errors.New("coordinator: token does not exist")
	errNilState              = errors.New("coordinator: state not configured")
)

var (
	// ClaimTokenContract is the collection holding lender claim tokens.
	ClaimTokenContract = crypto.ModuleAddress("claim-token")
	// ObligationTokenContract is the collection holding borrower obligation
	// tokens.
	ObligationTokenContract = crypto.ModuleAddress("obligation-token")
)

type coordinatorState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	RequireRole(role string, addr [20]byte) error
	Atomic(fn func() error) error
	NFTOwner(contract common.Address, id *big.Int) (common.Address, error)
	MintNFT(contract, to common.Address, id *big.Int) error
	BurnNFT(contract common.Address, id *big.Int) error
	TransferNFT(contract, operator, from, to common.Address, id *big.Int) error
}

// Coordinator implements the nonce registry and loan coordinator.
type Coordinator struct {
	state     coordinatorState
	emitter   events.Emitter
	adminRole string
}

// New returns a coordinator gated by adminRole for offer type registration.
func New(adminRole string) *Coordinator {
	return &Coordinator{emitter: events.NoopEmitter{}, adminRole: adminRole}
}

// SetState configures the state backend.
func (c *Coordinator) SetState(state coordinatorState) { c.state = state }

// SetEmitter configures the event emitter. Passing nil discards events.
func (c *Coordinator) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		c.emitter = events.NoopEmitter{}
		return
	}
	c.emitter = emitter
}

func (c *Coordinator) emit(evt events.Event) {
	if c.emitter != nil {
		c.emitter.Emit(evt)
	}
}

func normalizeOfferType(offerType string) string {
	return strings.ToUpper(strings.TrimSpace(offerType))
}

func offerTypeKey(offerType string) []byte {
	return []byte("coordinator/offertype/" + offerType)
}

func issuerKey(issuer common.Address) []byte {
	return []byte(fmt.Sprintf("coordinator/issuer/%x", issuer))
}

func nonceKey(offerType string, signer common.Address, nonce uint64) []byte {
	return []byte(fmt.Sprintf("coordinator/nonce/%s/%x/%d", offerType, signer, nonce))
}

func loanKey(id uint64) []byte {
	return []byte(fmt.Sprintf("coordinator/loan/%d", id))
}

func tokenKey(kind TokenKind, tokenID *big.Int) []byte {
	return []byte(fmt.Sprintf("coordinator/token/%s/%x", kind, tokenID.Bytes()))
}

var loanCounterKey = []byte("coordinator/loan-counter")

// RegisterOfferType binds offerType to issuer. Issuers previously bound to the
// same type keep their registration so their outstanding loans can still be
// resolved, and all of them share one nonce space.
func (c *Coordinator) RegisterOfferType(caller common.Address, offerType string, issuer common.Address) error {
	if c.state == nil {
		return errNilState
	}
	if err := c.state.RequireRole(c.adminRole, caller); err != nil {
		return err
	}
	offerType = normalizeOfferType(offerType)
	if offerType == "" || issuer == (common.Address{}) {
		return ErrUnknownOfferType
	}
	var existing string
	ok, err := c.state.KVGet(issuerKey(issuer), &existing)
	if err != nil {
		return err
	}
	if ok && existing != offerType {
		return ErrIssuerTypeMismatch
	}
	if err := c.state.KVPut(offerTypeKey(offerType), issuer); err != nil {
		return err
	}
	if err := c.state.KVPut(issuerKey(issuer), offerType); err != nil {
		return err
	}
	c.emit(events.Wrap(newOfferTypeRegisteredEvent(offerType, issuer)))
	return nil
}

// IssuerFor returns the current issuer of offerType.
func (c *Coordinator) IssuerFor(offerType string) (common.Address, error) {
	if c.state == nil {
		return common.Address{}, errNilState
	}
	var issuer common.Address
	ok, err := c.state.KVGet(offerTypeKey(normalizeOfferType(offerType)), &issuer)
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, ErrUnknownOfferType
	}
	return issuer, nil
}

// OfferTypeOf returns the offer type issuer is registered under.
func (c *Coordinator) OfferTypeOf(issuer common.Address) (string, error) {
	if c.state == nil {
		return "", errNilState
	}
	var offerType string
	ok, err := c.state.KVGet(issuerKey(issuer), &offerType)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrUnknownIssuer
	}
	return offerType, nil
}

// IsRegisteredIssuer reports whether addr is bound to any offer type.
func (c *Coordinator) IsRegisteredIssuer(addr common.Address) bool {
	_, err := c.OfferTypeOf(addr)
	return err == nil
}

// IsNonceUsed reports whether nonce is consumed or cancelled for signer.
func (c *Coordinator) IsNonceUsed(offerType string, signer common.Address, nonce uint64) (bool, error) {
	if c.state == nil {
		return false, errNilState
	}
	return c.state.KVGet(nonceKey(normalizeOfferType(offerType), signer, nonce), nil)
}

// CheckNonce fails with ErrInvalidNonce when the nonce is no longer usable.
func (c *Coordinator) CheckNonce(offerType string, signer common.Address, nonce uint64) error {
	used, err := c.IsNonceUsed(offerType, signer, nonce)
	if err != nil {
		return err
	}
	if used {
		return ErrInvalidNonce
	}
	return nil
}

// ConsumeNonce spends a nonce in the offer type the calling issuer serves.
func (c *Coordinator) ConsumeNonce(issuer, signer common.Address, nonce uint64) error {
	offerType, err := c.OfferTypeOf(issuer)
	if err != nil {
		return err
	}
	if err := c.CheckNonce(offerType, signer, nonce); err != nil {
		return err
	}
	return c.state.KVPut(nonceKey(offerType, signer, nonce), true)
}

// CancelLoanCommitment lets a signer permanently disable one of their own
// nonces. Loans already started under the nonce are unaffected.
func (c *Coordinator) CancelLoanCommitment(signer common.Address, offerType string, nonce uint64) error {
	if c.state == nil {
		return errNilState
	}
	offerType = normalizeOfferType(offerType)
	if _, err := c.IssuerFor(offerType); err != nil {
		return err
	}
	if err := c.CheckNonce(offerType, signer, nonce); err != nil {
		return err
	}
	if err := c.state.KVPut(nonceKey(offerType, signer, nonce), true); err != nil {
		return err
	}
	c.emit(events.Wrap(newNonceCancelledEvent(offerType, signer, nonce)))
	return nil
}

func (c *Coordinator) loanCounter() (uint64, error) {
	var counter uint64
	if _, err := c.state.KVGet(loanCounterKey, &counter); err != nil {
		return 0, err
	}
	return counter, nil
}

// NextLoanID allocates a fresh, monotonically increasing loan identifier.
func (c *Coordinator) NextLoanID(issuer common.Address) (uint64, error) {
	if _, err := c.OfferTypeOf(issuer); err != nil {
		return 0, err
	}
	counter, err := c.loanCounter()
	if err != nil {
		return 0, err
	}
	counter++
	if err := c.state.KVPut(loanCounterKey, counter); err != nil {
		return 0, err
	}
	return counter, nil
}

// RegisterLoan records an allocated loan as active and mints the claim token
// to claimOwner.
func (c *Coordinator) RegisterLoan(issuer common.Address, loanID uint64, borrower, claimOwner common.Address, startTime uint64) error {
	offerType, err := c.OfferTypeOf(issuer)
	if err != nil {
		return err
	}
	counter, err := c.loanCounter()
	if err != nil {
		return err
	}
	if loanID == 0 || loanID > counter {
		return ErrInvalidLoanID
	}
	if ok, err := c.state.KVGet(loanKey(loanID), nil); err != nil {
		return err
	} else if ok {
		return ErrLoanAlreadyRegistered
	}
	loan := &Loan{
		ID:                loanID,
		Status:            StatusActive,
		Issuer:            issuer,
		OfferType:         offerType,
		Borrower:          borrower,
		StartTime:         startTime,
		ClaimTokenID:      big.NewInt(0),
		ObligationTokenID: big.NewInt(0),
	}
	return c.state.Atomic(func() error {
		if err := c.storeLoan(loan); err != nil {
			return err
		}
		c.emit(events.Wrap(newLoanEvent(EventTypeLoanRegistered, loan)))
		return c.mintToken(loan, TokenClaim, claimOwner)
	})
}

// GetLoanData returns the loan or ErrInvalidLoanID.
func (c *Coordinator) GetLoanData(loanID uint64) (*Loan, error) {
	if c.state == nil {
		return nil, errNilState
	}
	var loan Loan
	ok, err := c.state.KVGet(loanKey(loanID), &loan)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidLoanID
	}
	return &loan, nil
}

func (c *Coordinator) storeLoan(loan *Loan) error {
	return c.state.KVPut(loanKey(loan.ID), loan)
}

func (c *Coordinator) issuerLoan(issuer common.Address, loanID uint64) (*Loan, error) {
	loan, err := c.GetLoanData(loanID)
	if err != nil {
		return nil, err
	}
	if loan.Issuer != issuer {
		return nil, ErrNotLoanIssuer
	}
	if loan.Status != StatusActive {
		return nil, ErrLoanNotActive
	}
	return loan, nil
}

func tokenIDFor(kind TokenKind, loanID, generation uint64) *big.Int {
	seed := fmt.Sprintf("nftlend/%s/%d/%d", kind, loanID, generation)
	return new(big.Int).SetBytes(ethcrypto.Keccak256([]byte(seed)))
}

func tokenContract(kind TokenKind) common.Address {
	if kind == TokenObligation {
		return ObligationTokenContract
	}
	return ClaimTokenContract
}

func (c *Coordinator) mintToken(loan *Loan, kind TokenKind, to common.Address) error {
	minted := loan.ClaimMinted
	if kind == TokenObligation {
		minted = loan.ObligationMinted
	}
	if minted {
		return ErrTokenAlreadyMinted
	}
	id := tokenIDFor(kind, loan.ID, loan.Generation)
	if err := c.state.MintNFT(tokenContract(kind), to, id); err != nil {
		return err
	}
	if err := c.state.KVPut(tokenKey(kind, id), loan.ID); err != nil {
		return err
	}
	if kind == TokenObligation {
		loan.ObligationMinted = true
		loan.ObligationTokenID = id
	} else {
		loan.ClaimMinted = true
		loan.ClaimTokenID = id
	}
	if err := c.storeLoan(loan); err != nil {
		return err
	}
	c.emit(events.Wrap(newTokenMintedEvent(loan, kind, id.String(), to)))
	return nil
}

func (c *Coordinator) burnTokens(loan *Loan) error {
	if loan.ClaimMinted {
		if err := c.burnToken(TokenClaim, loan.ClaimTokenID); err != nil {
			return err
		}
		loan.ClaimMinted = false
		loan.ClaimTokenID = big.NewInt(0)
	}
	if loan.ObligationMinted {
		if err := c.burnToken(TokenObligation, loan.ObligationTokenID); err != nil {
			return err
		}
		loan.ObligationMinted = false
		loan.ObligationTokenID = big.NewInt(0)
	}
	return nil
}

func (c *Coordinator) burnToken(kind TokenKind, id *big.Int) error {
	if err := c.state.BurnNFT(tokenContract(kind), id); err != nil {
		return err
	}
	return c.state.KVDelete(tokenKey(kind, id))
}

// MintClaimToken mints the lender claim token of an active loan. It fails
// with ErrTokenAlreadyMinted while a claim token exists.
func (c *Coordinator) MintClaimToken(issuer common.Address, loanID uint64, to common.Address) error {
	loan, err := c.issuerLoan(issuer, loanID)
	if err != nil {
		return err
	}
	return c.state.Atomic(func() error { return c.mintToken(loan, TokenClaim, to) })
}

// MintObligationToken mints the borrower obligation token of an active loan.
func (c *Coordinator) MintObligationToken(issuer common.Address, loanID uint64, to common.Address) error {
	loan, err := c.issuerLoan(issuer, loanID)
	if err != nil {
		return err
	}
	return c.state.Atomic(func() error { return c.mintToken(loan, TokenObligation, to) })
}

// ResetOwnership burns both tokens of an active loan and records borrower as
// the loan's borrower. Until the issuer mints again the loan has no claim or
// obligation holder, and the burned ids no longer resolve to the loan.
func (c *Coordinator) ResetOwnership(issuer common.Address, loanID uint64, borrower common.Address) error {
	loan, err := c.issuerLoan(issuer, loanID)
	if err != nil {
		return err
	}
	return c.state.Atomic(func() error {
		if err := c.burnTokens(loan); err != nil {
			return err
		}
		loan.Generation++
		loan.Borrower = borrower
		if err := c.storeLoan(loan); err != nil {
			return err
		}
		c.emit(events.Wrap(newLoanEvent(EventTypeOwnershipReset, loan)))
		return nil
	})
}

// ResolveLoan moves an active loan to its terminal status and burns its
// tokens.
func (c *Coordinator) ResolveLoan(issuer common.Address, loanID uint64, liquidated bool) error {
	loan, err := c.issuerLoan(issuer, loanID)
	if err != nil {
		return err
	}
	return c.state.Atomic(func() error {
		if err := c.burnTokens(loan); err != nil {
			return err
		}
		loan.Status = StatusRepaid
		if liquidated {
			loan.Status = StatusLiquidated
		}
		if err := c.storeLoan(loan); err != nil {
			return err
		}
		c.emit(events.Wrap(newLoanEvent(EventTypeLoanResolved, loan)))
		return nil
	})
}

// LoanOf resolves a token id to its loan. Burned ids return ErrTokenNotFound.
func (c *Coordinator) LoanOf(kind TokenKind, tokenID *big.Int) (uint64, error) {
	if c.state == nil {
		return 0, errNilState
	}
	if tokenID == nil {
		return 0, ErrTokenNotFound
	}
	var loanID uint64
	ok, err := c.state.KVGet(tokenKey(kind, tokenID), &loanID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrTokenNotFound
	}
	return loanID, nil
}

// OwnerOf returns the holder of a claim or obligation token.
func (c *Coordinator) OwnerOf(kind TokenKind, tokenID *big.Int) (common.Address, error) {
	if _, err := c.LoanOf(kind, tokenID); err != nil {
		return common.Address{}, err
	}
	return c.state.NFTOwner(tokenContract(kind), tokenID)
}

// Transfer moves a claim or obligation token between holders.
func (c *Coordinator) Transfer(kind TokenKind, operator, from, to common.Address, tokenID *big.Int) error {
	if _, err := c.LoanOf(kind, tokenID); err != nil {
		return err
	}
	return c.state.TransferNFT(tokenContract(kind), operator, from, to, tokenID)
}

// ClaimHolder returns the current holder of the loan's claim token.
func (c *Coordinator) ClaimHolder(loanID uint64) (common.Address, error) {
	loan, err := c.GetLoanData(loanID)
	if err != nil {
		return common.Address{}, err
	}
	if !loan.ClaimMinted {
		return common.Address{}, ErrTokenNotFound
	}
	return c.state.NFTOwner(ClaimTokenContract, loan.ClaimTokenID)
}

// CurrentBorrower returns the obligation token holder, or the original
// borrower when no obligation token exists.
func (c *Coordinator) CurrentBorrower(loanID uint64) (common.Address, error) {
	loan, err := c.GetLoanData(loanID)
	if err != nil {
		return common.Address{}, err
	}
	if !loan.ObligationMinted {
		return loan.Borrower, nil
	}
	return c.state.NFTOwner(ObligationTokenContract, loan.ObligationTokenID)
}
