package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/R3E-Network/raffle_layer/internal/app/system"
	"github.com/R3E-Network/raffle_layer/internal/config"
	"github.com/R3E-Network/raffle_layer/internal/events"
	"github.com/R3E-Network/raffle_layer/internal/keeper"
	"github.com/R3E-Network/raffle_layer/internal/ledger"
	"github.com/R3E-Network/raffle_layer/internal/metrics"
	"github.com/R3E-Network/raffle_layer/internal/middleware"
	"github.com/R3E-Network/raffle_layer/internal/raffle"
	"github.com/R3E-Network/raffle_layer/internal/storage"
	"github.com/R3E-Network/raffle_layer/internal/vrf"
	"github.com/R3E-Network/raffle_layer/pkg/logger"
)

// Application ties the raffle, its oracle and its ledger together and
// manages the lifecycle of background services.
type Application struct {
	manager *system.Manager
	log     *logger.Logger
	db      *sql.DB
	now     func() time.Time

	Config  *config.Config
	Machine *raffle.Machine
	Ledger  *ledger.Ledger
	Events  *events.RingBuffer
	Rounds  storage.RoundStore
	Auth    *middleware.JWTAuth
	Keeper  *keeper.Keeper

	// Coordinator is nil when randomness comes from a remote VRF service.
	Coordinator *vrf.Coordinator
}

// Option customises construction.
type Option func(*options)

type options struct {
	stores Stores
	clock  func() time.Time
}

// WithStores overrides the configured storage backend.
func WithStores(stores Stores) Option {
	return func(o *options) { o.stores = stores }
}

// WithClock sets the time source of the raffle machine.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.clock = now }
}

// New builds a fully wired application. In local VRF mode the development
// subscription is created, funded and the raffle is added as its consumer.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts ...Option) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = logger.New(cfg.Logging).Named("app")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	stores := o.stores
	var db *sql.DB
	if stores.Balances == nil || stores.Rounds == nil {
		built, opened, err := buildStores(ctx, cfg.Database, log)
		if err != nil {
			return nil, fmt.Errorf("configure stores: %w", err)
		}
		db = opened
		if stores.Balances == nil {
			stores.Balances = built.Balances
		}
		if stores.Rounds == nil {
			stores.Rounds = built.Rounds
		}
	}

	a := &Application{
		manager: system.NewManager(log.Named("system")),
		log:     log,
		db:      db,
		now:     time.Now,
		Config:  cfg,
		Events:  events.NewRingBuffer(cfg.Events.BufferSize),
		Rounds:  stores.Rounds,
		Auth:    middleware.NewJWTAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer, log.Named("auth")),
	}
	a.Ledger = ledger.New(stores.Balances, log.Named("ledger"))

	if err := a.wire(ctx, o); err != nil {
		a.closeDB()
		return nil, err
	}
	return a, nil
}

func (a *Application) wire(ctx context.Context, o options) error {
	cfg := a.Config
	fee, err := cfg.Raffle.Fee()
	if err != nil {
		return err
	}
	raffleAddr := common.HexToAddress(cfg.Raffle.Address)
	coordinatorAddr := common.HexToAddress(cfg.VRF.CoordinatorAddress)

	var oracle raffle.Oracle
	subID := cfg.Raffle.SubscriptionID
	switch cfg.VRF.Mode {
	case config.VRFModeRemote:
		oracle = vrf.NewRemoteOracle(vrf.RemoteConfig{
			BaseURL: cfg.VRF.RemoteURL,
			Timeout: cfg.VRF.RemoteTimeout,
			Token:   cfg.VRF.RemoteToken,
		})
		a.log.WithField("url", cfg.VRF.RemoteURL).Info("using remote VRF service")
	default:
		coord, id, err := a.provisionCoordinator(ctx, coordinatorAddr, raffleAddr)
		if err != nil {
			return err
		}
		a.Coordinator = coord
		oracle = coord
		subID = id
	}

	machineOpts := []raffle.Option{
		raffle.WithEmitter(a.Events),
		raffle.WithLogger(a.log.Named("raffle")),
	}
	if o.clock != nil {
		a.now = o.clock
		machineOpts = append(machineOpts, raffle.WithClock(o.clock))
	}
	machine, err := raffle.New(raffle.Config{
		EntranceFee:          fee,
		Interval:             cfg.Raffle.Interval,
		Coordinator:          coordinatorAddr,
		KeyHash:              common.HexToHash(cfg.Raffle.KeyHash),
		SubscriptionID:       subID,
		CallbackGasLimit:     cfg.Raffle.CallbackGasLimit,
		RequestConfirmations: cfg.Raffle.RequestConfirmations,
		NumWords:             cfg.Raffle.NumWords,
		Address:              raffleAddr,
		MaxPlayers:           cfg.Raffle.MaxPlayers,
	}, oracle, a.Ledger, machineOpts...)
	if err != nil {
		return fmt.Errorf("create raffle: %w", err)
	}
	a.Machine = machine

	if a.Coordinator != nil {
		if err := a.Coordinator.AddConsumer(ctx, subID, raffleAddr, machine); err != nil {
			return fmt.Errorf("add raffle consumer: %w", err)
		}
	}

	a.Events.Subscribe(metrics.Observe)
	recorder := newRoundRecorder(a.Rounds, a.log.Named("rounds"))
	a.Events.SubscribeFiltered(events.TypeFilter(events.EventWinnerPicked), recorder.Handle)

	services := []system.Service{recorder}
	if cfg.Redis.Enabled() {
		forwarder := events.NewRedisForwarder(cfg.Redis, a.log.Named("events"))
		a.Events.Subscribe(forwarder.Handle)
		services = append(services, forwarder)
	}
	if a.Coordinator != nil && cfg.VRF.AutoFulfill {
		services = append(services, vrf.NewFulfiller(a.Coordinator, cfg.VRF.FulfillDelay, a.log.Named("vrf")))
	}
	if cfg.Keeper.Enabled {
		k, err := keeper.New(machine, cfg.Keeper.Schedule, a.log.Named("keeper"),
			keeper.WithClock(a.now),
			keeper.WithEmitter(a.Events))
		if err != nil {
			return err
		}
		a.Keeper = k
		services = append(services, k)
	}

	for _, svc := range services {
		if err := a.manager.Register(svc); err != nil {
			return fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}
	return nil
}

func (a *Application) provisionCoordinator(ctx context.Context, coordinatorAddr, raffleAddr common.Address) (*vrf.Coordinator, uint64, error) {
	cfg := a.Config.VRF
	baseFee, err := config.ParseAmount(cfg.BaseFee)
	if err != nil {
		return nil, 0, fmt.Errorf("vrf.base_fee: %w", err)
	}
	gasPrice, err := config.ParseAmount(cfg.GasPriceLink)
	if err != nil {
		return nil, 0, fmt.Errorf("vrf.gas_price_link: %w", err)
	}
	fund, err := config.ParseAmount(cfg.FundAmount)
	if err != nil {
		return nil, 0, fmt.Errorf("vrf.fund_amount: %w", err)
	}
	prover, err := vrf.NewProver(cfg.SigningKey)
	if err != nil {
		return nil, 0, fmt.Errorf("create prover: %w", err)
	}
	if cfg.SigningKey == "" {
		a.log.Warn("vrf.signing_key not set; using an ephemeral key")
	}

	coord := vrf.NewCoordinator(vrf.CoordinatorConfig{
		Address:      coordinatorAddr,
		BaseFee:      baseFee,
		GasPriceLink: gasPrice,
	}, prover, a.Events, a.log.Named("vrf"))

	subID, err := coord.CreateSubscription(ctx, raffleAddr)
	if err != nil {
		return nil, 0, fmt.Errorf("create subscription: %w", err)
	}
	if !fund.IsZero() {
		if err := coord.FundSubscription(ctx, subID, fund); err != nil {
			return nil, 0, fmt.Errorf("fund subscription: %w", err)
		}
	}
	a.log.WithField("subscription_id", subID).
		WithField("prover", prover.Address().Hex()).
		WithField("fund", fund.Dec()).
		Info("development subscription provisioned")
	return coord, subID, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Services lists the registered background services.
func (a *Application) Services() []string {
	return a.manager.Services()
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and closes the database.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	a.closeDB()
	return err
}

func (a *Application) closeDB() {
	if a.db == nil {
		return
	}
	if err := a.db.Close(); err != nil {
		a.log.WithError(err).Warn("error closing database connection")
	}
	a.db = nil
}

// Enter moves payment from the player's ledger balance into the raffle
// escrow and admits the player. A rejected entry is refunded.
func (a *Application) Enter(ctx context.Context, player common.Address, payment *uint256.Int) error {
	if payment == nil {
		payment = new(uint256.Int)
	}
	fee := a.Machine.EntranceFee()
	if payment.Lt(fee) {
		return &raffle.InsufficientPaymentError{Required: fee, Sent: new(uint256.Int).Set(payment)}
	}

	escrow := a.Machine.Address()
	if _, err := a.Ledger.Move(ctx, storage.KindEntry, player, escrow, payment); err != nil {
		return err
	}
	enterErr := a.Machine.Enter(ctx, player, payment)
	if enterErr == nil {
		return nil
	}
	if _, err := a.Ledger.Move(ctx, storage.KindRefund, escrow, player, payment); err != nil {
		a.log.WithError(err).WithField("player", player.Hex()).Error("refund rejected entry")
		return errors.Join(enterErr, fmt.Errorf("refund entry: %w", err))
	}
	return enterErr
}

// Fulfill delivers random words from a remote oracle acting as caller.
func (a *Application) Fulfill(ctx context.Context, caller common.Address, id raffle.RequestID, words []*uint256.Int) error {
	return a.Machine.RawFulfillRandomWords(ctx, caller, id, words)
}

// CheckUpkeep evaluates draw eligibility at the current time.
func (a *Application) CheckUpkeep() (bool, raffle.Diagnostic) {
	eligible, diag := a.Machine.CheckUpkeep(a.now())
	metrics.RecordUpkeepCheck(eligible)
	return eligible, diag
}

// PerformUpkeep requests a draw at the current time.
func (a *Application) PerformUpkeep(ctx context.Context, payload []byte) (raffle.RequestID, error) {
	return a.Machine.PerformUpkeep(ctx, a.now(), payload)
}

// Ready reports whether the backing database answers.
func (a *Application) Ready(ctx context.Context) error {
	if a.db == nil {
		return nil
	}
	return a.db.PingContext(ctx)
}
