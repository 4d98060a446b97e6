package rpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"nftlend/core"
	"nftlend/crypto"
	"nftlend/native/coordinator"
	"nftlend/native/lending"
	"nftlend/native/swap"
)

var errBadRequest = errors.New("rpc: bad request")

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, coordinator.ErrInvalidLoanID),
		errors.Is(err, core.ErrUnknownOfferType),
		errors.Is(err, swap.ErrPoolNotFound):
		return http.StatusNotFound
	case errors.Is(err, lending.ErrLoanNotActive),
		errors.Is(err, swap.ErrInsufficientLiquidity),
		errors.Is(err, swap.ErrInvalidAmount):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("rpc query failed",
			"path", r.URL.Path,
			"requestId", RequestIDFrom(r.Context()),
			"error", err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func parseAddress(raw string) (common.Address, error) {
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return common.Address{}, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return addr, nil
}

func parseUint(raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not an unsigned integer", errBadRequest, raw)
	}
	return v, nil
}

func parseAmount(raw string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok || v.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %q is not a positive amount", errBadRequest, raw)
	}
	return v, nil
}

func amountString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type offerTypeResult struct {
	OfferType   string             `json:"offerType"`
	Issuer      string             `json:"issuer"`
	Kind        string             `json:"kind"`
	Adapter     string             `json:"adapter,omitempty"`
	Deployments []deploymentResult `json:"deployments"`
}

type deploymentResult struct {
	Issuer  string `json:"issuer"`
	Adapter string `json:"adapter,omitempty"`
}

func (s *Server) handleOfferTypes(w http.ResponseWriter, r *http.Request) {
	var out []offerTypeResult
	err := s.ledger.View(func() error {
		for _, offerType := range s.ledger.OfferTypes() {
			issuer, err := s.ledger.Issuer(offerType)
			if err != nil {
				return err
			}
			kind := "asset"
			if issuer.Kind() == lending.KindCollection {
				kind = "collection"
			}
			adapter, _, err := s.ledger.Refinance.AdapterType(issuer.Address())
			if err != nil {
				return err
			}
			res := offerTypeResult{
				OfferType: offerType,
				Issuer:    issuer.Address().Hex(),
				Kind:      kind,
				Adapter:   adapter,
			}
			for _, deployment := range s.ledger.Deployments(offerType) {
				tag, _, err := s.ledger.Refinance.AdapterType(deployment.Address())
				if err != nil {
					return err
				}
				res.Deployments = append(res.Deployments, deploymentResult{Issuer: deployment.Address().Hex(), Adapter: tag})
			}
			out = append(out, res)
		}
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type termsResult struct {
	Principal          string `json:"principal"`
	MaximumRepayment   string `json:"maximumRepayment"`
	Denomination       string `json:"denomination"`
	CollateralContract string `json:"collateralContract"`
	CollateralID       string `json:"collateralId"`
	WrapperType        string `json:"wrapperType"`
	Duration           uint64 `json:"duration"`
	IsProRata          bool   `json:"isProRata"`
	OriginationFee     string `json:"originationFee"`
	AdminFeeBps        uint32 `json:"adminFeeBps"`
	Lender             string `json:"lender"`
	Vault              string `json:"vault"`
}

type loanResult struct {
	LoanID      uint64       `json:"loanId"`
	Status      string       `json:"status"`
	Issuer      string       `json:"issuer"`
	OfferType   string       `json:"offerType"`
	Borrower    string       `json:"borrower"`
	ClaimHolder string       `json:"claimHolder,omitempty"`
	StartTime   uint64       `json:"startTime"`
	Terms       *termsResult `json:"terms,omitempty"`
	Payoff      string       `json:"payoff,omitempty"`
}

func (s *Server) loadLoan(loanID uint64) (*loanResult, error) {
	var out *loanResult
	err := s.ledger.View(func() error {
		loan, err := s.ledger.Coordinator.GetLoanData(loanID)
		if err != nil {
			return err
		}
		borrower, err := s.ledger.Coordinator.CurrentBorrower(loanID)
		if err != nil {
			return err
		}
		res := &loanResult{
			LoanID:    loan.ID,
			Status:    loan.Status.String(),
			Issuer:    loan.Issuer.Hex(),
			OfferType: loan.OfferType,
			Borrower:  borrower.Hex(),
			StartTime: loan.StartTime,
		}
		issuer, ok := s.ledger.IssuerAt(loan.Issuer)
		if ok {
			terms, err := issuer.LoanTerms(loanID)
			if err != nil {
				return err
			}
			res.Terms = &termsResult{
				Principal:          amountString(terms.Principal),
				MaximumRepayment:   amountString(terms.MaximumRepayment),
				Denomination:       terms.Denomination.Hex(),
				CollateralContract: terms.CollateralContract.Hex(),
				CollateralID:       amountString(terms.CollateralID),
				WrapperType:        terms.WrapperType,
				Duration:           terms.Duration,
				IsProRata:          terms.IsProRata,
				OriginationFee:     amountString(terms.OriginationFee),
				AdminFeeBps:        terms.AdminFeeBps,
				Lender:             terms.Lender.Hex(),
				Vault:              terms.Vault.Hex(),
			}
		}
		if loan.Status == coordinator.StatusActive {
			holder, err := s.ledger.Coordinator.ClaimHolder(loanID)
			if err != nil {
				return err
			}
			res.ClaimHolder = holder.Hex()
			if ok {
				payoff, err := issuer.LoanPayoff(loanID)
				if err == nil {
					res.Payoff = payoff.String()
				} else if !errors.Is(err, lending.ErrLoanExpired) {
					return err
				}
			}
		}
		out = res
		return nil
	})
	return out, err
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := parseUint(chi.URLParam(r, "loanID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	res, err := s.loadLoan(loanID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type payoffResult struct {
	LoanID       uint64 `json:"loanId"`
	Denomination string `json:"denomination"`
	Payoff       string `json:"payoff"`
}

func (s *Server) handlePayoff(w http.ResponseWriter, r *http.Request) {
	loanID, err := parseUint(chi.URLParam(r, "loanID"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var out payoffResult
	err = s.ledger.View(func() error {
		loan, err := s.ledger.Coordinator.GetLoanData(loanID)
		if err != nil {
			return err
		}
		issuer, ok := s.ledger.IssuerAt(loan.Issuer)
		if !ok {
			return coordinator.ErrInvalidLoanID
		}
		terms, err := issuer.LoanTerms(loanID)
		if err != nil {
			return err
		}
		payoff, err := issuer.LoanPayoff(loanID)
		if err != nil {
			return err
		}
		out = payoffResult{LoanID: loanID, Denomination: terms.Denomination.Hex(), Payoff: payoff.String()}
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type nonceResult struct {
	OfferType string `json:"offerType"`
	Signer    string `json:"signer"`
	Nonce     uint64 `json:"nonce"`
	Used      bool   `json:"used"`
}

func (s *Server) handleNonce(w http.ResponseWriter, r *http.Request) {
	offerType := chi.URLParam(r, "offerType")
	signer, err := parseAddress(chi.URLParam(r, "signer"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	nonce, err := parseUint(chi.URLParam(r, "nonce"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var used bool
	err = s.ledger.View(func() error {
		if _, err := s.ledger.Issuer(offerType); err != nil {
			return err
		}
		var err error
		used, err = s.ledger.Coordinator.IsNonceUsed(offerType, signer, nonce)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nonceResult{OfferType: offerType, Signer: signer.Hex(), Nonce: nonce, Used: used})
}

type balanceResult struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func (s *Server) handleEscrowed(w http.ResponseWriter, r *http.Request) {
	recipient, err := parseAddress(chi.URLParam(r, "recipient"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	token, err := parseAddress(chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var balance *big.Int
	err = s.ledger.View(func() error {
		var err error
		balance, err = s.ledger.Payments.EscrowedBalance(recipient, token)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balanceResult{Account: recipient.Hex(), Token: token.Hex(), Balance: amountString(balance)})
}

type flashResult struct {
	Token     string `json:"token"`
	Available string `json:"available"`
	FeeBps    uint32 `json:"feeBps"`
}

func (s *Server) handleFlash(w http.ResponseWriter, r *http.Request) {
	token, err := parseAddress(chi.URLParam(r, "token"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var out flashResult
	err = s.ledger.View(func() error {
		available, err := s.ledger.Flash.MaxFlashLoan(token)
		if err != nil {
			return err
		}
		bps, err := s.ledger.Flash.FeeBps()
		if err != nil {
			return err
		}
		out = flashResult{Token: token.Hex(), Available: amountString(available), FeeBps: bps}
		return nil
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type quoteResult struct {
	TokenIn   string `json:"tokenIn"`
	TokenOut  string `json:"tokenOut"`
	AmountIn  string `json:"amountIn"`
	AmountOut string `json:"amountOut"`
}

func (s *Server) handleSwapQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	tokenIn, err := parseAddress(q.Get("tokenIn"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	tokenOut, err := parseAddress(q.Get("tokenOut"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	amountIn, err := parseAmount(q.Get("amountIn"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var out *big.Int
	err = s.ledger.View(func() error {
		var err error
		out, err = s.ledger.Swap.QuoteExactInput(tokenIn, tokenOut, amountIn)
		return err
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResult{
		TokenIn:   tokenIn.Hex(),
		TokenOut:  tokenOut.Hex(),
		AmountIn:  amountIn.String(),
		AmountOut: out.String(),
	})
}
