package refinance

import (
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/core/types"
)

const (
	EventTypeAdapterSet = "refinance.adapter.set"
	EventTypeRefinanced = "refinance.loan.refinanced"
)

func newAdapterSetEvent(issuer common.Address, tag string) *types.Event {
	return &types.Event{Type: EventTypeAdapterSet, Attributes: map[string]string{
		"issuer": strings.ToLower(issuer.Hex()),
		"type":   tag,
	}}
}

func newRefinancedEvent(req Request, res *Result) *types.Event {
	return &types.Event{Type: EventTypeRefinanced, Attributes: map[string]string{
		"oldIssuer":   strings.ToLower(req.OldIssuer.Hex()),
		"oldLoanId":   strconv.FormatUint(req.OldLoanID, 10),
		"newIssuer":   strings.ToLower(req.NewIssuer.Hex()),
		"newLoanId":   strconv.FormatUint(res.NewLoanID, 10),
		"borrowToken": strings.ToLower(res.BorrowToken.Hex()),
		"borrowed":    res.Borrowed.String(),
		"flashFee":    res.FlashFee.String(),
		"deficit":     res.Deficit.String(),
	}}
}
