package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"nftlend/config"
	"nftlend/core/state"
	"nftlend/core/types"
	"nftlend/crypto"
	nativecommon "nftlend/native/common"
	"nftlend/native/coordinator"
	"nftlend/native/escrow"
	"nftlend/native/flash"
	"nftlend/native/lending"
	"nftlend/native/payments"
	"nftlend/native/permits"
	"nftlend/native/refinance"
	"nftlend/native/signing"
	"nftlend/native/swap"
	"nftlend/storage"
)

// SystemAddress holds the admin role used for bootstrap configuration.
var SystemAddress = crypto.ModuleAddress("ledger")

// ErrUnknownOfferType is returned by Issuer for offer types with no issuer.
var ErrUnknownOfferType = errors.New("ledger: unknown offer type")

// IssuerSpec describes one issuer deployment to wire. Several deployments may
// serve the same offer type; the last one listed originates new loans and the
// earlier ones stay registered so their loans can be repaid, liquidated or
// refinanced.
type IssuerSpec struct {
	Name    string
	Kind    lending.Kind
	Config  lending.Config
	Adapter string
}

// Options configures a Ledger.
type Options struct {
	ChainID             uint64
	Treasury            common.Address
	Admins              []common.Address
	Issuers             []IssuerSpec
	FlashFeeBps         uint32
	SwapFeeBps          uint32
	FallbackBorrowToken common.Address
	Now                 func() int64
	Logger              *slog.Logger
}

// OptionsFromConfig maps node configuration onto ledger options.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if cfg == nil {
		return Options{}, fmt.Errorf("ledger: nil config")
	}
	treasury, err := crypto.DecodeAddress(cfg.Treasury)
	if err != nil {
		return Options{}, fmt.Errorf("ledger: treasury: %w", err)
	}
	opts := Options{
		ChainID:     cfg.ChainID,
		Treasury:    treasury,
		FlashFeeBps: cfg.Flash.FeeBps,
		SwapFeeBps:  cfg.Swap.FeeBps,
	}
	for _, admin := range cfg.Admins {
		addr, err := crypto.DecodeAddress(admin)
		if err != nil {
			return Options{}, fmt.Errorf("ledger: admin: %w", err)
		}
		opts.Admins = append(opts.Admins, addr)
	}
	if token := strings.TrimSpace(cfg.Refinance.FallbackBorrowToken); token != "" {
		addr, err := crypto.DecodeAddress(token)
		if err != nil {
			return Options{}, fmt.Errorf("ledger: fallback borrow token: %w", err)
		}
		opts.FallbackBorrowToken = addr
	}
	for _, issuer := range cfg.Issuers {
		kind := lending.KindAsset
		if strings.EqualFold(strings.TrimSpace(issuer.Kind), "collection") {
			kind = lending.KindCollection
		}
		opts.Issuers = append(opts.Issuers, IssuerSpec{
			Name:    issuer.Name,
			Kind:    kind,
			Adapter: issuer.Adapter,
			Config: lending.Config{
				OfferType:                strings.ToUpper(strings.TrimSpace(issuer.OfferType)),
				MaxLoanDuration:          issuer.MaxLoanDuration,
				AdminFeeBps:              issuer.AdminFeeBps,
				RenegotiationAdminFeeBps: issuer.RenegotiationAdminFeeBps,
				ChainID:                  cfg.ChainID,
				Treasury:                 treasury,
				ProRataDisabled:          issuer.ProRataDisabled,
			},
		})
	}
	return opts, nil
}

// Ledger wires every protocol component to one state manager and one clock
// and serialises callers. Each Execute is a single unit of work.
type Ledger struct {
	mu        sync.Mutex
	db        storage.Database
	state     *state.Manager
	logger    *slog.Logger
	now       func() int64
	observers []func([]types.Event)

	Coordinator *coordinator.Coordinator
	Escrow      *escrow.Engine
	Payments    *payments.Manager
	Permits     *permits.Registry
	Pauses      *nativecommon.Pauses
	Verifier    *signing.Verifier
	Flash       *flash.Pool
	Swap        *swap.Engine
	Refinance   *refinance.Engine

	issuers    map[common.Address]*lending.Engine
	offerTypes map[string][]common.Address
}

// NewLedger builds the component graph over db and applies the bootstrap
// configuration (roles, offer types, adapter types) in one committed unit.
func NewLedger(db storage.Database, opts Options) (*Ledger, error) {
	if db == nil {
		db = storage.NewMemDB()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{
		db:      db,
		state:   state.NewManager(db),
		logger:  logger,
		issuers:    make(map[common.Address]*lending.Engine),
		offerTypes: make(map[string][]common.Address),
	}
	l.now = opts.Now
	if l.now == nil {
		l.now = func() int64 { return time.Now().Unix() }
	}
	clock := func() int64 { return l.now() }
	st := l.state

	l.Coordinator = coordinator.New(state.RoleAdmin)
	l.Coordinator.SetState(st)
	l.Coordinator.SetEmitter(st)

	l.Escrow = escrow.NewEngine(state.RoleAdmin)
	l.Escrow.SetState(st)
	l.Escrow.SetEmitter(st)
	l.Escrow.SetIssuerRegistry(l.Coordinator)

	l.Payments = payments.NewManager(state.RoleAdmin)
	l.Payments.SetState(st)
	l.Payments.SetEmitter(st)

	l.Permits = permits.NewRegistry(st, state.RoleAdmin)
	l.Pauses = nativecommon.NewPauses(st, state.RoleAdmin)
	l.Verifier = signing.NewVerifier()

	l.Flash = flash.NewPool(state.RoleAdmin, opts.FlashFeeBps)
	l.Flash.SetState(st)
	l.Flash.SetEmitter(st)
	l.Flash.SetPauses(l.Pauses)

	swapEngine, err := swap.NewEngine(opts.SwapFeeBps)
	if err != nil {
		return nil, fmt.Errorf("ledger: swap: %w", err)
	}
	l.Swap = swapEngine
	l.Swap.SetState(st)
	l.Swap.SetEmitter(st)
	l.Swap.SetPauses(l.Pauses)

	l.Refinance = refinance.NewEngine(state.RoleAdmin, opts.FallbackBorrowToken)
	l.Refinance.SetState(st)
	l.Refinance.SetEmitter(st)
	l.Refinance.SetPauses(l.Pauses)
	l.Refinance.SetCollaborators(l.Flash, l.Swap, l.Payments)
	l.Refinance.SetBorrowerRegistry(l.Coordinator)

	for _, def := range opts.Issuers {
		cfg := def.Config
		cfg.OfferType = strings.ToUpper(strings.TrimSpace(cfg.OfferType))
		if cfg.ChainID == 0 {
			cfg.ChainID = opts.ChainID
		}
		if cfg.Treasury == (common.Address{}) {
			cfg.Treasury = opts.Treasury
		}
		if cfg.MaxLoanDuration == 0 {
			cfg.MaxLoanDuration = lending.DefaultMaxLoanDuration
		}
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("ledger: issuer %q: %w", def.Name, err)
		}
		addr := issuerAddress(def)
		if _, dup := l.issuers[addr]; dup {
			return nil, fmt.Errorf("ledger: duplicate issuer %q for %s", def.Name, cfg.OfferType)
		}
		issuer := lending.NewEngine(addr, def.Kind, cfg)
		issuer.SetState(st)
		issuer.SetCollaborators(l.Coordinator, l.Escrow, l.Payments, l.Permits, l.Verifier)
		issuer.SetPauses(l.Pauses)
		issuer.SetEmitter(st)
		issuer.SetNowFunc(clock)
		issuer.SetRefinancer(refinance.Address)
		l.Refinance.RegisterIssuer(issuer)
		l.issuers[addr] = issuer
		l.offerTypes[cfg.OfferType] = append(l.offerTypes[cfg.OfferType], addr)
	}

	err = l.Execute(func() error {
		return l.bootstrap(opts)
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: bootstrap: %w", err)
	}
	return l, nil
}

func (l *Ledger) bootstrap(opts Options) error {
	if err := l.state.SetRole(state.RoleAdmin, SystemAddress, true); err != nil {
		return err
	}
	for _, admin := range opts.Admins {
		if err := l.state.SetRole(state.RoleAdmin, admin, true); err != nil {
			return err
		}
	}
	for _, def := range opts.Issuers {
		issuer := l.issuers[issuerAddress(def)]
		if issuer == nil {
			continue
		}
		if !l.Coordinator.IsRegisteredIssuer(issuer.Address()) {
			if err := l.Coordinator.RegisterOfferType(SystemAddress, issuer.OfferType(), issuer.Address()); err != nil {
				return err
			}
		}
		adapter := def.Adapter
		if strings.TrimSpace(adapter) == "" {
			adapter = refinance.AdapterCurrent
		}
		if err := l.Refinance.SetAdapterType(SystemAddress, issuer.Address(), adapter); err != nil {
			return err
		}
	}
	// the last deployment listed for an offer type originates new loans
	for _, offerType := range l.OfferTypes() {
		deployments := l.offerTypes[offerType]
		latest := deployments[len(deployments)-1]
		if current, err := l.Coordinator.IssuerFor(offerType); err == nil && current == latest {
			continue
		}
		if err := l.Coordinator.RegisterOfferType(SystemAddress, offerType, latest); err != nil {
			return err
		}
	}
	return nil
}

// issuerAddress derives a deployment's account from its name, falling back to
// the offer type.
func issuerAddress(def IssuerSpec) common.Address {
	name := def.Name
	if name == "" {
		name = strings.ToLower(strings.TrimSpace(def.Config.OfferType))
	}
	return crypto.ModuleAddress("issuer/" + name)
}

// State exposes the state manager. Callers outside Execute or View must not
// mutate it.
func (l *Ledger) State() *state.Manager { return l.state }

// Now returns the ledger clock.
func (l *Ledger) Now() int64 { return l.now() }

// Issuer returns the deployment currently originating loans of offerType, as
// registered with the coordinator. It reads state, so concurrent callers must
// use it inside Execute or View.
func (l *Ledger) Issuer(offerType string) (*lending.Engine, error) {
	addr, err := l.Coordinator.IssuerFor(offerType)
	if errors.Is(err, coordinator.ErrUnknownOfferType) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownOfferType, offerType)
	}
	if err != nil {
		return nil, err
	}
	issuer, ok := l.issuers[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s served by unknown issuer %s", ErrUnknownOfferType, offerType, addr.Hex())
	}
	return issuer, nil
}

// Deployments lists every issuer wired for offerType, oldest first.
func (l *Ledger) Deployments(offerType string) []*lending.Engine {
	addrs := l.offerTypes[strings.ToUpper(strings.TrimSpace(offerType))]
	out := make([]*lending.Engine, 0, len(addrs))
	for _, addr := range addrs {
		out = append(out, l.issuers[addr])
	}
	return out
}

// IssuerAt returns the issuer deployed at addr.
func (l *Ledger) IssuerAt(addr common.Address) (*lending.Engine, bool) {
	issuer, ok := l.issuers[addr]
	return issuer, ok
}

// OfferTypes lists the configured offer types in sorted order.
func (l *Ledger) OfferTypes() []string {
	out := make([]string, 0, len(l.offerTypes))
	for offerType := range l.offerTypes {
		out = append(out, offerType)
	}
	sort.Strings(out)
	return out
}

// AddObserver registers fn to receive the events of every committed unit.
func (l *Ledger) AddObserver(fn func([]types.Event)) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.observers = append(l.observers, fn)
}

// Execute runs fn as one unit of work and commits it. If fn fails every
// write and event it produced is discarded.
func (l *Ledger) Execute(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.state.Atomic(fn); err != nil {
		l.logger.Debug("unit of work rejected", slog.String("error", err.Error()))
		return err
	}
	if err := l.state.Commit(); err != nil {
		l.logger.Error("commit failed", slog.String("error", err.Error()))
		l.state.Discard()
		return err
	}
	committed := l.state.DrainEvents()
	for _, observer := range l.observers {
		observer(committed)
	}
	return nil
}

// View runs fn against current state and discards anything it writes.
func (l *Ledger) View(fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := l.state.Snapshot()
	defer l.state.RevertToSnapshot(snap)
	return fn()
}

// Close releases the backing database.
func (l *Ledger) Close() {
	l.db.Close()
}
