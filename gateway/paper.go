package gateway

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"
)

// Paper 内存版交易所：维护盘口、持仓和挂单，不撮合成交。
// 用于 dry-run 与测试；可按调用类型注入失败。
type Paper struct {
	mu        sync.Mutex
	books     map[Instrument]Book
	walks     map[Instrument]*walk
	positions map[Instrument]int64
	orders    map[Instrument]map[string]OutstandingOrder
	failures  map[Op][]Kind
	rng       *rand.Rand
	calls     map[Op]int
}

type walk struct {
	mid    float64
	tick   float64
	levels int
	volume int64
}

// NewPaper 创建模拟交易所，seed 决定随机游走序列。
func NewPaper(seed int64) *Paper {
	return &Paper{
		books:     make(map[Instrument]Book),
		walks:     make(map[Instrument]*walk),
		positions: make(map[Instrument]int64),
		orders:    make(map[Instrument]map[string]OutstandingOrder),
		failures:  make(map[Op][]Kind),
		rng:       rand.New(rand.NewSource(seed)),
		calls:     make(map[Op]int),
	}
}

// SetBook 固定某标的盘口快照。
func (p *Paper) SetBook(instrument Instrument, book Book) {
	p.mu.Lock()
	defer p.mu.Unlock()
	book.Instrument = instrument
	p.books[instrument] = book
	delete(p.walks, instrument)
}

// Seed 以 mid 为中心生成对称盘口，之后每次读取盘口按 ±1 tick 随机游走。
func (p *Paper) Seed(instrument Instrument, mid, tick float64, levels int, volume int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if levels <= 0 {
		levels = 1
	}
	w := &walk{mid: mid, tick: tick, levels: levels, volume: volume}
	p.walks[instrument] = w
	p.books[instrument] = w.book(instrument)
}

// SetPosition 设置交易所侧持仓。
func (p *Paper) SetPosition(instrument Instrument, pos int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.positions[instrument] = pos
}

// FailNext 让下一次 op 调用以 kind 失败；可多次排队。
func (p *Paper) FailNext(op Op, kind Kind) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[op] = append(p.failures[op], kind)
}

// Orders 返回某标的当前挂单（拷贝）。
func (p *Paper) Orders(instrument Instrument) map[string]OutstandingOrder {
	p.mu.Lock()
	defer p.mu.Unlock()
	return copyOrders(p.orders[instrument])
}

// Calls 返回某类调用的累计次数（含失败）。
func (p *Paper) Calls(op Op) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[op]
}

func (p *Paper) GetLastPriceBook(ctx context.Context, instrument Instrument) (Book, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, OpBook, instrument); err != nil {
		return Book{}, err
	}
	if w, ok := p.walks[instrument]; ok {
		w.step(p.rng)
		p.books[instrument] = w.book(instrument)
	}
	book, ok := p.books[instrument]
	if !ok {
		return Book{}, NewCallError(OpBook, instrument, KindRejected, ErrEmptyBook)
	}
	return cloneBook(book), nil
}

func (p *Paper) GetPositions(ctx context.Context) (map[Instrument]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, OpPositions, ""); err != nil {
		return nil, err
	}
	out := make(map[Instrument]int64, len(p.positions))
	for k, v := range p.positions {
		out[k] = v
	}
	return out, nil
}

func (p *Paper) GetOutstandingOrders(ctx context.Context, instrument Instrument) (map[string]OutstandingOrder, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, OpOutstanding, instrument); err != nil {
		return nil, err
	}
	return copyOrders(p.orders[instrument]), nil
}

func (p *Paper) InsertOrder(ctx context.Context, req InsertRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, OpInsert, req.Instrument); err != nil {
		return "", err
	}
	if req.Volume <= 0 || req.Price <= 0 {
		return "", NewCallError(OpInsert, req.Instrument, KindRejected, errors.New("invalid price or volume"))
	}
	id := uuid.NewString()
	if p.orders[req.Instrument] == nil {
		p.orders[req.Instrument] = make(map[string]OutstandingOrder)
	}
	p.orders[req.Instrument][id] = OutstandingOrder{Side: req.Side, Price: req.Price, Volume: req.Volume}
	return id, nil
}

func (p *Paper) DeleteOrder(ctx context.Context, instrument Instrument, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.begin(ctx, OpDelete, instrument); err != nil {
		return err
	}
	if _, ok := p.orders[instrument][orderID]; !ok {
		return NewCallError(OpDelete, instrument, KindUnknownOrder, ErrUnknownOrder)
	}
	delete(p.orders[instrument], orderID)
	return nil
}

// begin 必须持锁调用。
func (p *Paper) begin(ctx context.Context, op Op, instrument Instrument) error {
	p.calls[op]++
	if err := ctx.Err(); err != nil {
		return NewCallError(op, instrument, KindTransport, err)
	}
	queue := p.failures[op]
	if len(queue) == 0 {
		return nil
	}
	kind := queue[0]
	p.failures[op] = queue[1:]
	return NewCallError(op, instrument, kind, errors.New("injected failure"))
}

func (w *walk) step(rng *rand.Rand) {
	switch rng.Intn(3) {
	case 0:
		w.mid -= w.tick
	case 2:
		w.mid += w.tick
	}
	if w.mid < w.tick*float64(w.levels+1) {
		w.mid = w.tick * float64(w.levels+1)
	}
}

func (w *walk) book(instrument Instrument) Book {
	b := Book{Instrument: instrument}
	for i := 1; i <= w.levels; i++ {
		off := float64(i) * w.tick
		b.Bids = append(b.Bids, Level{Price: roundTo(w.mid-off, w.tick), Volume: w.volume})
		b.Asks = append(b.Asks, Level{Price: roundTo(w.mid+off, w.tick), Volume: w.volume})
	}
	return b
}

func roundTo(v, tick float64) float64 {
	if tick <= 0 {
		return v
	}
	return math.Round(v/tick) * tick
}

func cloneBook(b Book) Book {
	out := Book{Instrument: b.Instrument}
	out.Bids = append([]Level(nil), b.Bids...)
	out.Asks = append([]Level(nil), b.Asks...)
	return out
}

func copyOrders(in map[string]OutstandingOrder) map[string]OutstandingOrder {
	out := make(map[string]OutstandingOrder, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
