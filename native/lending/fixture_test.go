package lending

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/state"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
	"nftlend/native/coordinator"
	"nftlend/native/escrow"
	"nftlend/native/payments"
	"nftlend/native/permits"
	"nftlend/native/signing"
)

const day = 24 * 60 * 60

var (
	admin    = common.HexToAddress("0xad")
	treasury = common.HexToAddress("0x7e")
	borrower = common.HexToAddress("0xb0")
	stranger = common.HexToAddress("0x33")
	token    = common.HexToAddress("0x7001")
	nft      = common.HexToAddress("0x7002")
)

type fixture struct {
	t          *testing.T
	st         *state.Manager
	coord      *coordinator.Coordinator
	escrow     *escrow.Engine
	payments   *payments.Manager
	pauses     *nativecommon.Pauses
	asset      *Engine
	collection *Engine
	lenderKey  *crypto.PrivateKey
	lender     common.Address
	now        int64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, now: 1_000_000}
	f.st = state.NewManager(nil)
	must(t, f.st.SetRole(state.RoleAdmin, admin, true))

	key, err := crypto.GeneratePrivateKey()
	must(t, err)
	f.lenderKey = key
	f.lender = key.Address()

	f.coord = coordinator.New(state.RoleAdmin)
	f.coord.SetState(f.st)
	f.coord.SetEmitter(f.st)

	f.escrow = escrow.NewEngine(state.RoleAdmin)
	f.escrow.SetState(f.st)
	f.escrow.SetEmitter(f.st)
	f.escrow.SetIssuerRegistry(f.coord)

	f.payments = payments.NewManager(state.RoleAdmin)
	f.payments.SetState(f.st)
	f.payments.SetEmitter(f.st)

	registry := permits.NewRegistry(f.st, state.RoleAdmin)
	must(t, registry.SetNFTPermit(admin, nft, "ERC721"))
	must(t, registry.SetERC20Permit(admin, token, true))

	f.pauses = nativecommon.NewPauses(f.st, state.RoleAdmin)
	verifier := signing.NewVerifier()

	build := func(offerType string, kind Kind) *Engine {
		addr := crypto.ModuleAddress("issuer/" + offerType)
		e := NewEngine(addr, kind, Config{
			OfferType:                offerType,
			MaxLoanDuration:          DefaultMaxLoanDuration,
			AdminFeeBps:              1_000,
			RenegotiationAdminFeeBps: 2_000,
			ChainID:                  1,
			Treasury:                 treasury,
		})
		e.SetState(f.st)
		e.SetCollaborators(f.coord, f.escrow, f.payments, registry, verifier)
		e.SetPauses(f.pauses)
		e.SetEmitter(f.st)
		e.SetNowFunc(func() int64 { return f.now })
		must(t, f.coord.RegisterOfferType(admin, offerType, addr))
		return e
	}
	f.asset = build(OfferTypeAsset, KindAsset)
	f.collection = build(OfferTypeCollection, KindCollection)

	for _, holder := range []common.Address{f.lender, borrower} {
		must(t, f.st.MintToken(token, holder, big.NewInt(10_000)))
		must(t, f.st.ApproveToken(token, holder, payments.Address, big.NewInt(1_000_000)))
	}
	for id := int64(1); id <= 5; id++ {
		must(t, f.st.MintNFT(nft, borrower, big.NewInt(id)))
	}
	must(t, f.st.SetApprovalForAll(nft, borrower, escrow.GlobalVault, true))
	return f
}

func must(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func (f *fixture) offer(id int64, proRata bool) Offer {
	return Offer{
		Denomination:       token,
		Principal:          big.NewInt(100),
		MaximumRepayment:   big.NewInt(150),
		CollateralContract: nft,
		CollateralID:       big.NewInt(id),
		Duration:           7 * day,
		IsProRata:          proRata,
		OriginationFee:     big.NewInt(0),
		LiquidityCap:       big.NewInt(0),
	}
}

func (f *fixture) auth(nonce uint64) Authorization {
	return Authorization{Signer: f.lender, Nonce: nonce, Expiry: uint64(f.now) + day}
}

func (f *fixture) sign(e *Engine, primary string, offer Offer, auth Authorization) Authorization {
	f.t.Helper()
	hash, err := OfferHash(e.Domain(), primary, e.OfferType(), offer, auth)
	must(f.t, err)
	sig, err := f.lenderKey.Sign(hash.Bytes())
	must(f.t, err)
	auth.Signature = sig
	return auth
}

func (f *fixture) signRenegotiation(e *Engine, r Renegotiation, auth Authorization) Authorization {
	f.t.Helper()
	hash, err := RenegotiationHash(e.Domain(), e.OfferType(), r, auth)
	must(f.t, err)
	sig, err := f.lenderKey.Sign(hash.Bytes())
	must(f.t, err)
	auth.Signature = sig
	return auth
}

func (f *fixture) startAssetLoan(id int64, proRata bool, nonce uint64) uint64 {
	f.t.Helper()
	offer := f.offer(id, proRata)
	loanID, err := f.asset.AcceptOffer(borrower, offer, f.sign(f.asset, PrimaryTypeAssetOffer, offer, f.auth(nonce)))
	must(f.t, err)
	return loanID
}

func (f *fixture) balance(holder common.Address) int64 {
	f.t.Helper()
	b, err := f.st.TokenBalance(token, holder)
	must(f.t, err)
	return b.Int64()
}

func (f *fixture) nftOwner(id int64) common.Address {
	f.t.Helper()
	owner, err := f.st.NFTOwner(nft, big.NewInt(id))
	must(f.t, err)
	return owner
}
