// Package market generates synthetic quotes for paper trading.
package market

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"mt5-trader/pkg/broker"
)

// Quotes receives the generated market data; paper.Terminal implements it.
type Quotes interface {
	SetTick(symbol string, bid, ask float64)
	SetBars(symbol string, bars []broker.Bar)
}

// MockFeed drives a random walk into a simulated terminal and folds the
// ticks into bars.
type MockFeed struct {
	Quotes     Quotes
	Symbol     string
	StartPrice float64
	Step       float64 // max move per tick
	Spread     float64 // ask - bid
	Interval   time.Duration
	BarPeriod  time.Duration
	MaxBars    int
	Seed       int64

	once  sync.Once
	mu    sync.Mutex
	rng   *rand.Rand
	price float64
	bars  []broker.Bar
}

func (m *MockFeed) init() {
	m.once.Do(func() {
		if m.StartPrice == 0 {
			m.StartPrice = 100.0
		}
		if m.Step == 0 {
			m.Step = 0.5
		}
		if m.Interval == 0 {
			m.Interval = time.Second
		}
		if m.BarPeriod == 0 {
			m.BarPeriod = time.Minute
		}
		if m.MaxBars == 0 {
			m.MaxBars = 200
		}
		seed := m.Seed
		if seed == 0 {
			seed = time.Now().UnixNano()
		}
		m.rng = rand.New(rand.NewSource(seed))
		m.price = m.StartPrice
	})
}

// Prefill fabricates MaxBars-1 closed bars ending before now so indicators
// have history on the first iteration.
func (m *MockFeed) Prefill(now time.Time) {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()

	start := now.Truncate(m.BarPeriod).Add(-time.Duration(m.MaxBars-1) * m.BarPeriod)
	m.bars = m.bars[:0]
	for i := 0; i < m.MaxBars-1; i++ {
		open := m.price
		hi, lo := open, open
		for j := 0; j < 4; j++ {
			m.walk()
			hi, lo = max(hi, m.price), min(lo, m.price)
		}
		m.bars = append(m.bars, broker.Bar{
			Time:  start.Add(time.Duration(i) * m.BarPeriod),
			Open:  open,
			High:  hi,
			Low:   lo,
			Close: m.price,
		})
	}
	m.publishLocked()
}

// Tick moves the price once and updates the bar that contains now.
func (m *MockFeed) Tick(now time.Time) {
	m.init()
	m.mu.Lock()
	defer m.mu.Unlock()

	m.walk()
	open := now.Truncate(m.BarPeriod)
	n := len(m.bars)
	if n == 0 || m.bars[n-1].Time.Before(open) {
		m.bars = append(m.bars, broker.Bar{Time: open, Open: m.price, High: m.price, Low: m.price, Close: m.price})
		if len(m.bars) > m.MaxBars {
			m.bars = m.bars[len(m.bars)-m.MaxBars:]
		}
	} else {
		b := &m.bars[n-1]
		b.High = max(b.High, m.price)
		b.Low = min(b.Low, m.price)
		b.Close = m.price
		b.TickVolume++
	}
	m.publishLocked()
}

func (m *MockFeed) walk() {
	m.price += (m.rng.Float64()*2 - 1) * m.Step
	if m.price <= m.Step {
		m.price = m.Step * 2
	}
}

func (m *MockFeed) publishLocked() {
	m.Quotes.SetTick(m.Symbol, m.price, m.price+m.Spread)
	m.Quotes.SetBars(m.Symbol, m.bars)
}

// Start prefills history and ticks until ctx is done.
func (m *MockFeed) Start(ctx context.Context) {
	if m.Quotes == nil || m.Symbol == "" {
		log.Println("mock feed: quotes or symbol not set")
		return
	}
	m.Prefill(time.Now())

	go func() {
		t := time.NewTicker(m.Interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-t.C:
				m.Tick(now)
			}
		}
	}()
	log.Printf("✓ Mock feed started for %s (start %.2f, step %.2f)", m.Symbol, m.StartPrice, m.Step)
}
