package mock

import "github.com/rabidaudio/sdspi/spi"

type EventKind uint8

const (
	EventExchange EventKind = iota
	EventSelect
	EventRelease
	EventClock
)

type Event struct {
	Kind  EventKind
	MOSI  byte
	MISO  byte
	Clock spi.Clock
}

// Recorder sits between a driver and a transport and logs everything that
// crosses the bus.
type Recorder struct {
	spi.Transport
	Events []Event
}

// ensure interface conformation
var _ spi.Transport = (*Recorder)(nil)

func NewRecorder(t spi.Transport) *Recorder {
	return &Recorder{Transport: t}
}

func (r *Recorder) Exchange(b byte) (byte, error) {
	in, err := r.Transport.Exchange(b)
	r.Events = append(r.Events, Event{Kind: EventExchange, MOSI: b, MISO: in})
	return in, err
}

func (r *Recorder) Select(active bool) error {
	kind := EventRelease
	if active {
		kind = EventSelect
	}
	r.Events = append(r.Events, Event{Kind: kind})
	return r.Transport.Select(active)
}

func (r *Recorder) SetClock(c spi.Clock) error {
	r.Events = append(r.Events, Event{Kind: EventClock, Clock: c})
	return r.Transport.SetClock(c)
}

// Stream returns the bytes exchanged in each direction.
func (r *Recorder) Stream() (mosi, miso []byte) {
	for _, e := range r.Events {
		if e.Kind == EventExchange {
			mosi = append(mosi, e.MOSI)
			miso = append(miso, e.MISO)
		}
	}
	return
}

// Transactions splits the exchanged bytes at every chip-select assertion.
// Redundant selects while already selected don't start a new transaction.
func (r *Recorder) Transactions() (txs []Transaction) {
	selected := false
	for _, e := range r.Events {
		switch e.Kind {
		case EventSelect:
			if !selected {
				txs = append(txs, Transaction{})
			}
			selected = true
		case EventRelease:
			selected = false
		case EventExchange:
			if selected && len(txs) > 0 {
				tx := &txs[len(txs)-1]
				tx.MOSI = append(tx.MOSI, e.MOSI)
				tx.MISO = append(tx.MISO, e.MISO)
			}
		}
	}
	return txs
}

func (r *Recorder) Reset() {
	r.Events = r.Events[:0]
}

// Transaction is the traffic of one chip-select window.
type Transaction struct {
	MOSI []byte
	MISO []byte
}

// Stuck is a transport whose MISO line never changes, like a bus with no
// card or a card wedged busy.
type Stuck struct {
	Value     byte
	Exchanges int
}

// ensure interface conformation
var _ spi.Transport = (*Stuck)(nil)

func (s *Stuck) Exchange(byte) (byte, error) {
	s.Exchanges++
	return s.Value, nil
}

func (s *Stuck) Select(bool) error        { return nil }
func (s *Stuck) SetClock(spi.Clock) error { return nil }
