package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"nftlend/core"
	"nftlend/crypto"
	"nftlend/native/escrow"
	"nftlend/native/lending"
	"nftlend/native/payments"
)

var (
	treasury = common.HexToAddress("0xfee5")
	borrower = common.HexToAddress("0xb0")
	token    = common.HexToAddress("0x7001")
	nft      = common.HexToAddress("0x7003")
)

type fixture struct {
	ledger *core.Ledger
	lender common.Address
	loanID uint64
	server *Server
}

func newFixture(t *testing.T, cfg Config) *fixture {
	t.Helper()
	now := int64(1_000_000)
	l, err := core.NewLedger(nil, core.Options{
		ChainID:  1,
		Treasury: treasury,
		Issuers: []core.IssuerSpec{
			{Name: "asset", Kind: lending.KindAsset, Config: lending.Config{OfferType: lending.OfferTypeAsset, AdminFeeBps: 1_000}},
		},
		FlashFeeBps: 9,
		SwapFeeBps:  30,
		Now:         func() int64 { return now },
	})
	if err != nil {
		t.Fatalf("ledger: %v", err)
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	issuer, err := l.Issuer(lending.OfferTypeAsset)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	offer := lending.Offer{
		Denomination:       token,
		Principal:          big.NewInt(100),
		MaximumRepayment:   big.NewInt(150),
		CollateralContract: nft,
		CollateralID:       big.NewInt(1),
		Duration:           7 * 24 * 60 * 60,
		OriginationFee:     big.NewInt(0),
		LiquidityCap:       big.NewInt(0),
	}
	auth := lending.Authorization{Signer: key.Address(), Nonce: 3, Expiry: uint64(now) + 60}
	hash, err := lending.OfferHash(issuer.Domain(), lending.PrimaryTypeAssetOffer, issuer.OfferType(), offer, auth)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if auth.Signature, err = key.Sign(hash.Bytes()); err != nil {
		t.Fatalf("sign: %v", err)
	}

	f := &fixture{ledger: l, lender: key.Address()}
	st := l.State()
	err = l.Execute(func() error {
		if err := l.Permits.SetNFTPermit(core.SystemAddress, nft, "ERC721"); err != nil {
			return err
		}
		if err := l.Permits.SetERC20Permit(core.SystemAddress, token, true); err != nil {
			return err
		}
		if err := st.MintToken(token, f.lender, big.NewInt(1_000)); err != nil {
			return err
		}
		if err := st.ApproveToken(token, f.lender, payments.Address, big.NewInt(1_000)); err != nil {
			return err
		}
		if err := st.MintNFT(nft, borrower, big.NewInt(1)); err != nil {
			return err
		}
		if err := st.SetApprovalForAll(nft, borrower, escrow.GlobalVault, true); err != nil {
			return err
		}
		var err error
		f.loanID, err = issuer.AcceptOffer(borrower, offer, auth)
		return err
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	f.server = NewServer(l, cfg, nil)
	return f
}

func (f *fixture) get(t *testing.T, path string, out interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if out != nil && rec.Code == http.StatusOK {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return rec
}

func TestHealthAndRequestID(t *testing.T) {
	f := newFixture(t, Config{})
	rec := f.get(t, "/healthz", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("unexpected health response %d %q", rec.Code, rec.Body.String())
	}
	if _, err := uuid.Parse(rec.Header().Get(HeaderRequestID)); err != nil {
		t.Fatalf("expected generated request id, got %q", rec.Header().Get(HeaderRequestID))
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	id := uuid.NewString()
	req.Header.Set(HeaderRequestID, id)
	rec = httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Header().Get(HeaderRequestID) != id {
		t.Fatalf("expected request id to be echoed")
	}
}

func TestLoanQueries(t *testing.T) {
	f := newFixture(t, Config{})

	var loan loanResult
	rec := f.get(t, fmt.Sprintf("/v1/loans/%d", f.loanID), &loan)
	if rec.Code != http.StatusOK {
		t.Fatalf("loan: %d %s", rec.Code, rec.Body.String())
	}
	if loan.Status != "active" || loan.Borrower != borrower.Hex() || loan.ClaimHolder != f.lender.Hex() {
		t.Fatalf("unexpected loan %+v", loan)
	}
	if loan.Terms == nil || loan.Terms.Principal != "100" || loan.Payoff != "150" {
		t.Fatalf("unexpected terms %+v payoff %s", loan.Terms, loan.Payoff)
	}

	var payoff payoffResult
	if rec := f.get(t, fmt.Sprintf("/v1/loans/%d/payoff", f.loanID), &payoff); rec.Code != http.StatusOK {
		t.Fatalf("payoff: %d", rec.Code)
	}
	if payoff.Payoff != "150" || payoff.Denomination != token.Hex() {
		t.Fatalf("unexpected payoff %+v", payoff)
	}

	if rec := f.get(t, "/v1/loans/999", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown loan, got %d", rec.Code)
	}
	if rec := f.get(t, "/v1/loans/abc", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestNonceAndBalanceQueries(t *testing.T) {
	f := newFixture(t, Config{})

	var nonce nonceResult
	f.get(t, fmt.Sprintf("/v1/nonces/%s/%s/3", lending.OfferTypeAsset, f.lender.Hex()), &nonce)
	if !nonce.Used {
		t.Fatalf("expected consumed nonce")
	}
	f.get(t, fmt.Sprintf("/v1/nonces/%s/%s/4", lending.OfferTypeAsset, f.lender.Hex()), &nonce)
	if nonce.Used {
		t.Fatalf("expected fresh nonce")
	}
	if rec := f.get(t, fmt.Sprintf("/v1/nonces/UNKNOWN/%s/4", f.lender.Hex()), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown offer type, got %d", rec.Code)
	}

	var balance balanceResult
	f.get(t, fmt.Sprintf("/v1/escrowed/%s/%s", f.lender.Hex(), token.Hex()), &balance)
	if balance.Balance != "0" {
		t.Fatalf("expected empty escrowed balance, got %s", balance.Balance)
	}

	var types []offerTypeResult
	f.get(t, "/v1/offer-types", &types)
	if len(types) != 1 || types[0].Kind != "asset" || types[0].Adapter != "CURRENT" || len(types[0].Deployments) != 1 || types[0].Deployments[0].Issuer != types[0].Issuer {
		t.Fatalf("unexpected offer types %+v", types)
	}

	if rec := f.get(t, fmt.Sprintf("/v1/swap/quote?tokenIn=%s&tokenOut=%s&amountIn=10", token.Hex(), nft.Hex()), nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a pool, got %d", rec.Code)
	}
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, Config{RequestsPerMinute: 1, Burst: 2})
	path := fmt.Sprintf("/v1/flash/%s", token.Hex())
	for i := 0; i < 2; i++ {
		if rec := f.get(t, path, nil); rec.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, rec.Code)
		}
	}
	if rec := f.get(t, path, nil); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected throttling, got %d", rec.Code)
	}
	// health checks are never throttled
	if rec := f.get(t, "/healthz", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected health to bypass limiter, got %d", rec.Code)
	}
}
