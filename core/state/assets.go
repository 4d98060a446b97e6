package state

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/events"
)

var (
	ErrInsufficientBalance   = errors.New("assets: insufficient balance")
	ErrInsufficientAllowance = errors.New("assets: insufficient allowance")
	ErrRecipientBlocked      = errors.New("assets: recipient blocked by token")
	ErrSenderBlocked         = errors.New("assets: sender blocked by token")
	ErrInvalidAmount         = errors.New("assets: amount must not be negative")
	ErrZeroAddress           = errors.New("assets: zero address")
	ErrNFTNotFound           = errors.New("assets: nft does not exist")
	ErrNFTExists             = errors.New("assets: nft already minted")
	ErrNotNFTOwner           = errors.New("assets: from is not the owner")
	ErrNotApproved           = errors.New("assets: caller not owner nor approved")
	ErrPunkNotOffered        = errors.New("assets: punk not offered to buyer")
)

// Collectible standards understood by the asset ledger.
const (
	StandardERC721  = "ERC721"
	StandardERC1155 = "ERC1155"
	StandardPunks   = "PUNKS"
)

var (
	erc20BalancePrefix   = []byte("asset/erc20/balance/")
	erc20AllowancePrefix = []byte("asset/erc20/allowance/")
	erc20BlockedPrefix   = []byte("asset/erc20/blocked/")
	erc721OwnerPrefix    = []byte("asset/erc721/owner/")
	erc721ApprovalPrefix = []byte("asset/erc721/approved/")
	operatorPrefix       = []byte("asset/operator/")
	erc1155BalancePrefix = []byte("asset/erc1155/balance/")
	punkOwnerPrefix      = []byte("asset/punk/owner/")
	punkOfferPrefix      = []byte("asset/punk/offer/")
)

func balanceKey(token, holder common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", erc20BalancePrefix, token, holder))
}

func allowanceKey(token, owner, spender common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/%x/%x", erc20AllowancePrefix, token, owner, spender))
}

func blockedKey(token, holder common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/%x", erc20BlockedPrefix, token, holder))
}

func nftOwnerKey(contract common.Address, id *big.Int) []byte {
	return []byte(fmt.Sprintf("%s%x/%s", erc721OwnerPrefix, contract, id.String()))
}

func nftApprovalKey(contract common.Address, id *big.Int) []byte {
	return []byte(fmt.Sprintf("%s%x/%s", erc721ApprovalPrefix, contract, id.String()))
}

func operatorKey(contract, owner, operator common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/%x/%x", operatorPrefix, contract, owner, operator))
}

func multiBalanceKey(contract common.Address, id *big.Int, holder common.Address) []byte {
	return []byte(fmt.Sprintf("%s%x/%s/%x", erc1155BalancePrefix, contract, id.String(), holder))
}

func punkOwnerKey(contract common.Address, id *big.Int) []byte {
	return []byte(fmt.Sprintf("%s%x/%s", punkOwnerPrefix, contract, id.String()))
}

func punkOfferKey(contract common.Address, id *big.Int) []byte {
	return []byte(fmt.Sprintf("%s%x/%s", punkOfferPrefix, contract, id.String()))
}

func (m *Manager) loadAmount(key []byte) (*big.Int, error) {
	amount := new(big.Int)
	ok, err := m.KVGet(key, amount)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return amount, nil
}

func (m *Manager) loadFlag(key []byte) (bool, error) {
	var flag bool
	if _, err := m.KVGet(key, &flag); err != nil {
		return false, err
	}
	return flag, nil
}

func (m *Manager) loadAddress(key []byte) (common.Address, bool, error) {
	var addr common.Address
	ok, err := m.KVGet(key, &addr)
	if err != nil {
		return common.Address{}, false, err
	}
	return addr, ok, nil
}

// --- fungible tokens ---

// TokenBalance returns the balance of holder for token.
func (m *Manager) TokenBalance(token, holder common.Address) (*big.Int, error) {
	return m.loadAmount(balanceKey(token, holder))
}

// MintToken credits amount of token to the recipient.
func (m *Manager) MintToken(token, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	balance, err := m.TokenBalance(token, to)
	if err != nil {
		return err
	}
	if err := m.KVPut(balanceKey(token, to), new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	m.Emit(events.TokenTransfer{Token: token, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferToken moves amount of token from one holder to another. Transfers to
// or from a blocked holder fail, mirroring tokens with an administrative
// blocklist.
func (m *Manager) TransferToken(token, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if blocked, err := m.loadFlag(blockedKey(token, from)); err != nil {
		return err
	} else if blocked {
		return ErrSenderBlocked
	}
	if blocked, err := m.loadFlag(blockedKey(token, to)); err != nil {
		return err
	} else if blocked {
		return ErrRecipientBlocked
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBalance, err := m.TokenBalance(token, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromBalance, amount)
	}
	toBalance, err := m.TokenBalance(token, to)
	if err != nil {
		return err
	}
	if err := m.KVPut(balanceKey(token, from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	if err := m.KVPut(balanceKey(token, to), new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	m.Emit(events.TokenTransfer{Token: token, From: from, To: to, Amount: new(big.Int).Set(amount)})
	return nil
}

// TransferTokenFrom moves tokens on behalf of from, spending spender's
// allowance unless spender is the holder.
func (m *Manager) TransferTokenFrom(token, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	if spender != from {
		allowance, err := m.TokenAllowance(token, from, spender)
		if err != nil {
			return err
		}
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: have %s, need %s", ErrInsufficientAllowance, allowance, amount)
		}
		if err := m.KVPut(allowanceKey(token, from, spender), new(big.Int).Sub(allowance, amount)); err != nil {
			return err
		}
	}
	return m.TransferToken(token, from, to, amount)
}

// ApproveToken sets the allowance spender may draw from owner.
func (m *Manager) ApproveToken(token, owner, spender common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}
	return m.KVPut(allowanceKey(token, owner, spender), new(big.Int).Set(amount))
}

// TokenAllowance returns the amount spender may transfer from owner.
func (m *Manager) TokenAllowance(token, owner, spender common.Address) (*big.Int, error) {
	return m.loadAmount(allowanceKey(token, owner, spender))
}

// SetTokenBlocked toggles the token-level blocklist entry for holder.
func (m *Manager) SetTokenBlocked(token, holder common.Address, blocked bool) error {
	if !blocked {
		return m.KVDelete(blockedKey(token, holder))
	}
	return m.KVPut(blockedKey(token, holder), true)
}

// --- ERC-721 style collectibles ---

// NFTOwner returns the owner of an ERC-721 style token.
func (m *Manager) NFTOwner(contract common.Address, id *big.Int) (common.Address, error) {
	owner, ok, err := m.loadAddress(nftOwnerKey(contract, id))
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, ErrNFTNotFound
	}
	return owner, nil
}

// MintNFT creates a new ERC-721 style token owned by to.
func (m *Manager) MintNFT(contract, to common.Address, id *big.Int) error {
	if id == nil || id.Sign() < 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if _, ok, err := m.loadAddress(nftOwnerKey(contract, id)); err != nil {
		return err
	} else if ok {
		return ErrNFTExists
	}
	if err := m.KVPut(nftOwnerKey(contract, id), to); err != nil {
		return err
	}
	m.Emit(events.NFTTransfer{Standard: StandardERC721, Contract: contract, TokenID: new(big.Int).Set(id), To: to})
	return nil
}

// BurnNFT destroys an ERC-721 style token. Only the contract itself burns, so
// no operator check is applied.
func (m *Manager) BurnNFT(contract common.Address, id *big.Int) error {
	owner, err := m.NFTOwner(contract, id)
	if err != nil {
		return err
	}
	if err := m.KVDelete(nftApprovalKey(contract, id)); err != nil {
		return err
	}
	if err := m.KVDelete(nftOwnerKey(contract, id)); err != nil {
		return err
	}
	m.Emit(events.NFTTransfer{Standard: StandardERC721, Contract: contract, TokenID: new(big.Int).Set(id), From: owner})
	return nil
}

// ApproveNFT grants spender the right to move a single token.
func (m *Manager) ApproveNFT(contract, caller, spender common.Address, id *big.Int) error {
	owner, err := m.NFTOwner(contract, id)
	if err != nil {
		return err
	}
	if caller != owner {
		isOperator, err := m.IsApprovedForAll(contract, owner, caller)
		if err != nil {
			return err
		}
		if !isOperator {
			return ErrNotApproved
		}
	}
	return m.KVPut(nftApprovalKey(contract, id), spender)
}

// SetApprovalForAll toggles operator rights over every token owner holds in
// contract. It serves both ERC-721 and ERC-1155 style collections.
func (m *Manager) SetApprovalForAll(contract, owner, operator common.Address, approved bool) error {
	if !approved {
		return m.KVDelete(operatorKey(contract, owner, operator))
	}
	return m.KVPut(operatorKey(contract, owner, operator), true)
}

// IsApprovedForAll reports operator rights.
func (m *Manager) IsApprovedForAll(contract, owner, operator common.Address) (bool, error) {
	return m.loadFlag(operatorKey(contract, owner, operator))
}

// TransferNFT moves an ERC-721 style token. operator must be the owner, the
// approved address for the token, or an operator for the owner.
func (m *Manager) TransferNFT(contract, operator, from, to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	owner, err := m.NFTOwner(contract, id)
	if err != nil {
		return err
	}
	if owner != from {
		return ErrNotNFTOwner
	}
	if operator != owner {
		approved, _, err := m.loadAddress(nftApprovalKey(contract, id))
		if err != nil {
			return err
		}
		isOperator, err := m.IsApprovedForAll(contract, owner, operator)
		if err != nil {
			return err
		}
		if approved != operator && !isOperator {
			return ErrNotApproved
		}
	}
	if err := m.KVDelete(nftApprovalKey(contract, id)); err != nil {
		return err
	}
	if err := m.KVPut(nftOwnerKey(contract, id), to); err != nil {
		return err
	}
	m.Emit(events.NFTTransfer{Standard: StandardERC721, Contract: contract, TokenID: new(big.Int).Set(id), From: from, To: to})
	return nil
}

// --- ERC-1155 style collectibles ---

// MultiBalance returns holder's balance of id in an ERC-1155 style contract.
func (m *Manager) MultiBalance(contract common.Address, id *big.Int, holder common.Address) (*big.Int, error) {
	return m.loadAmount(multiBalanceKey(contract, id, holder))
}

// MintMulti credits amount of id to the recipient.
func (m *Manager) MintMulti(contract, to common.Address, id, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 || id == nil {
		return ErrInvalidAmount
	}
	balance, err := m.MultiBalance(contract, id, to)
	if err != nil {
		return err
	}
	if err := m.KVPut(multiBalanceKey(contract, id, to), new(big.Int).Add(balance, amount)); err != nil {
		return err
	}
	m.Emit(events.NFTTransfer{Standard: StandardERC1155, Contract: contract, TokenID: new(big.Int).Set(id), To: to})
	return nil
}

// TransferMulti moves amount of id; operator must be the holder or an approved
// operator.
func (m *Manager) TransferMulti(contract, operator, from, to common.Address, id, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if operator != from {
		ok, err := m.IsApprovedForAll(contract, from, operator)
		if err != nil {
			return err
		}
		if !ok {
			return ErrNotApproved
		}
	}
	fromBalance, err := m.MultiBalance(contract, id, from)
	if err != nil {
		return err
	}
	if fromBalance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	toBalance, err := m.MultiBalance(contract, id, to)
	if err != nil {
		return err
	}
	if err := m.KVPut(multiBalanceKey(contract, id, from), new(big.Int).Sub(fromBalance, amount)); err != nil {
		return err
	}
	if err := m.KVPut(multiBalanceKey(contract, id, to), new(big.Int).Add(toBalance, amount)); err != nil {
		return err
	}
	m.Emit(events.NFTTransfer{Standard: StandardERC1155, Contract: contract, TokenID: new(big.Int).Set(id), From: from, To: to})
	return nil
}

// --- punk-style collectibles ---
//
// Punks predate approvals: the owner offers a token to a specific address and
// that address buys it. Direct transfers are owner-initiated.

// PunkOwner returns the owner index entry for a punk.
func (m *Manager) PunkOwner(contract common.Address, id *big.Int) (common.Address, error) {
	owner, ok, err := m.loadAddress(punkOwnerKey(contract, id))
	if err != nil {
		return common.Address{}, err
	}
	if !ok {
		return common.Address{}, ErrNFTNotFound
	}
	return owner, nil
}

// MintPunk assigns a punk to its first owner.
func (m *Manager) MintPunk(contract, to common.Address, id *big.Int) error {
	if _, ok, err := m.loadAddress(punkOwnerKey(contract, id)); err != nil {
		return err
	} else if ok {
		return ErrNFTExists
	}
	return m.KVPut(punkOwnerKey(contract, id), to)
}

// OfferPunkTo lets the owner offer a punk to a single buyer at zero price.
func (m *Manager) OfferPunkTo(contract, caller common.Address, id *big.Int, buyer common.Address) error {
	owner, err := m.PunkOwner(contract, id)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrNotNFTOwner
	}
	return m.KVPut(punkOfferKey(contract, id), buyer)
}

// BuyPunk completes a zero-price offer made to buyer.
func (m *Manager) BuyPunk(contract, buyer common.Address, id *big.Int) error {
	owner, err := m.PunkOwner(contract, id)
	if err != nil {
		return err
	}
	offered, ok, err := m.loadAddress(punkOfferKey(contract, id))
	if err != nil {
		return err
	}
	if !ok || offered != buyer {
		return ErrPunkNotOffered
	}
	return m.movePunk(contract, owner, buyer, id)
}

// TransferPunk is the owner-initiated transfer.
func (m *Manager) TransferPunk(contract, caller, to common.Address, id *big.Int) error {
	owner, err := m.PunkOwner(contract, id)
	if err != nil {
		return err
	}
	if owner != caller {
		return ErrNotNFTOwner
	}
	return m.movePunk(contract, owner, to, id)
}

func (m *Manager) movePunk(contract, from, to common.Address, id *big.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if err := m.KVDelete(punkOfferKey(contract, id)); err != nil {
		return err
	}
	if err := m.KVPut(punkOwnerKey(contract, id), to); err != nil {
		return err
	}
	m.Emit(events.NFTTransfer{Standard: StandardPunks, Contract: contract, TokenID: new(big.Int).Set(id), From: from, To: to})
	return nil
}
