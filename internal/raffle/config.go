package raffle

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

const (
	DefaultRequestConfirmations uint16 = 3
	DefaultNumWords             uint32 = 1
)

// Config is fixed when the machine is constructed.
type Config struct {
	// EntranceFee is the minimum accepted payment, in wei.
	EntranceFee *uint256.Int

	// Interval is the minimum time between round boundaries.
	Interval time.Duration

	// Coordinator is the only address allowed to deliver fulfillments.
	Coordinator          common.Address
	KeyHash              common.Hash
	SubscriptionID       uint64
	CallbackGasLimit     uint32
	RequestConfirmations uint16
	NumWords             uint32

	// Address is the raffle's own account. Entrance payments are held there
	// and the prize is paid from it.
	Address common.Address

	// MaxPlayers caps entries per round. Zero means unlimited.
	MaxPlayers int
}

func (c Config) normalize() Config {
	if c.RequestConfirmations == 0 {
		c.RequestConfirmations = DefaultRequestConfirmations
	}
	if c.NumWords == 0 {
		c.NumWords = DefaultNumWords
	}
	if c.EntranceFee != nil {
		c.EntranceFee = new(uint256.Int).Set(c.EntranceFee)
	}
	return c
}

// Validate checks the configuration after defaults are applied.
func (c Config) Validate() error {
	switch {
	case c.EntranceFee == nil:
		return fmt.Errorf("%w: entrance fee is required", ErrInvalidConfig)
	case c.Interval < 0:
		return fmt.Errorf("%w: interval must not be negative", ErrInvalidConfig)
	case c.Coordinator == (common.Address{}):
		return fmt.Errorf("%w: coordinator address is required", ErrInvalidConfig)
	case c.Address == (common.Address{}):
		return fmt.Errorf("%w: raffle address is required", ErrInvalidConfig)
	case c.CallbackGasLimit == 0:
		return fmt.Errorf("%w: callback gas limit is required", ErrInvalidConfig)
	case c.MaxPlayers < 0:
		return fmt.Errorf("%w: max players must not be negative", ErrInvalidConfig)
	}
	return nil
}
