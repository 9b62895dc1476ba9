package sdcard

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryBudget bounds a polling loop. Attempts is the only limit the card
// protocol requires; Timeout adds an optional wall-clock deadline on top.
type RetryBudget struct {
	Attempts int
	// Delay is slept between attempts.
	Delay time.Duration
	// Timeout, when non-zero, abandons the loop once it has elapsed.
	Timeout time.Duration
}

// run calls try until it reports done. It returns ErrTimeout once the
// budget is spent, or the first error try returns.
func (b RetryBudget) run(sleep func(time.Duration), try func() (bool, error)) error {
	var deadline time.Time
	if b.Timeout > 0 {
		deadline = time.Now().Add(b.Timeout)
	}
	for i := 0; i < b.Attempts; i++ {
		done, err := try()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			break
		}
		if b.Delay > 0 && i+1 < b.Attempts {
			sleep(b.Delay)
		}
	}
	return ErrTimeout
}

// Config tunes a Device. Zero fields take the values from DefaultConfig.
type Config struct {
	Logger logrus.FieldLogger
	// Sleep implements every fixed delay; tests replace it to run instantly.
	Sleep func(time.Duration)

	// SettleDelay is held with chip-select released before each command.
	SettleDelay time.Duration
	// PowerUpDelay precedes the power-on dummy clocks.
	PowerUpDelay time.Duration
	// DummyBytes is how many 0xFF bytes are clocked with the card
	// deselected at power-on. Cards need at least 74 clocks.
	DummyBytes int

	BusIdle     RetryBudget
	Response    RetryBudget
	IdleProbe   RetryBudget
	Negotiation RetryBudget
	DataToken   RetryBudget
	NotBusy     RetryBudget
}

func DefaultConfig() Config {
	return Config{
		Logger:       discardLogger(),
		Sleep:        time.Sleep,
		SettleDelay:  20 * time.Millisecond,
		PowerUpDelay: 10 * time.Millisecond,
		DummyBytes:   20,
		BusIdle:      RetryBudget{Attempts: 1000},
		Response:     RetryBudget{Attempts: 1000},
		IdleProbe:    RetryBudget{Attempts: 200},
		Negotiation:  RetryBudget{Attempts: 0xFFFE},
		DataToken:    RetryBudget{Attempts: 200, Delay: 10 * time.Millisecond},
		NotBusy:      RetryBudget{Attempts: 1000},
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Logger == nil {
		c.Logger = def.Logger
	}
	if c.Sleep == nil {
		c.Sleep = def.Sleep
	}
	if c.SettleDelay == 0 {
		c.SettleDelay = def.SettleDelay
	}
	if c.PowerUpDelay == 0 {
		c.PowerUpDelay = def.PowerUpDelay
	}
	if c.DummyBytes == 0 {
		c.DummyBytes = def.DummyBytes
	}
	fill := func(b *RetryBudget, d RetryBudget) {
		if b.Attempts == 0 {
			*b = d
		}
	}
	fill(&c.BusIdle, def.BusIdle)
	fill(&c.Response, def.Response)
	fill(&c.IdleProbe, def.IdleProbe)
	fill(&c.Negotiation, def.Negotiation)
	fill(&c.DataToken, def.DataToken)
	fill(&c.NotBusy, def.NotBusy)
	return c
}

func discardLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
