package saga

import (
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
)

// Outcome is one of the three probabilistic buckets the payment
// retry loop reacts to.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeFailure
)

// Gateway is the payment processor contract; its body is a simulator
// here, shaped like the phantom-charge simulator's mock gateway
// (random outcome bucket, simulated per-branch latency) but
// re-specified to this system's exact distribution: 0.85 success,
// 0.10 timeout, 0.05 immediate failure.
type Gateway interface {
	Charge(amountCents int64) (paymentRef string, outcome Outcome, err error)
}

type MockGateway struct{}

func (MockGateway) Charge(amountCents int64) (string, Outcome, error) {
	roll := rand.Float64()
	switch {
	case roll < 0.85:
		time.Sleep(80 * time.Millisecond)
		return "pay_" + uuid.NewString(), OutcomeSuccess, nil
	case roll < 0.95:
		time.Sleep(300 * time.Millisecond)
		return "", OutcomeTimeout, nil
	default:
		time.Sleep(60 * time.Millisecond)
		return "", OutcomeFailure, nil
	}
}
