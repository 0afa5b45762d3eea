package gateway

import (
	"context"
	"time"
)

// CallRecorder 接收每次交易所调用的耗时与失败分类（kind 为空表示成功）。
type CallRecorder interface {
	ObserveVenueCall(op string, seconds float64, kind string)
}

// Instrumented 为任意 Exchange 统计延迟与失败，并把裸错误包装成 *CallError。
type Instrumented struct {
	next     Exchange
	recorder CallRecorder
}

func NewInstrumented(next Exchange, recorder CallRecorder) *Instrumented {
	return &Instrumented{next: next, recorder: recorder}
}

func (e *Instrumented) GetLastPriceBook(ctx context.Context, instrument Instrument) (Book, error) {
	start := time.Now()
	book, err := e.next.GetLastPriceBook(ctx, instrument)
	err = e.observe(OpBook, instrument, start, err)
	return book, err
}

func (e *Instrumented) GetPositions(ctx context.Context) (map[Instrument]int64, error) {
	start := time.Now()
	pos, err := e.next.GetPositions(ctx)
	err = e.observe(OpPositions, "", start, err)
	return pos, err
}

func (e *Instrumented) GetOutstandingOrders(ctx context.Context, instrument Instrument) (map[string]OutstandingOrder, error) {
	start := time.Now()
	orders, err := e.next.GetOutstandingOrders(ctx, instrument)
	err = e.observe(OpOutstanding, instrument, start, err)
	return orders, err
}

func (e *Instrumented) InsertOrder(ctx context.Context, req InsertRequest) (string, error) {
	start := time.Now()
	id, err := e.next.InsertOrder(ctx, req)
	err = e.observe(OpInsert, req.Instrument, start, err)
	return id, err
}

func (e *Instrumented) DeleteOrder(ctx context.Context, instrument Instrument, orderID string) error {
	start := time.Now()
	err := e.next.DeleteOrder(ctx, instrument, orderID)
	return e.observe(OpDelete, instrument, start, err)
}

func (e *Instrumented) observe(op Op, instrument Instrument, start time.Time, err error) error {
	err = NewCallError(op, instrument, KindOf(err), err)
	if e.recorder != nil {
		kind := ""
		if err != nil {
			kind = KindOf(err).String()
		}
		e.recorder.ObserveVenueCall(string(op), time.Since(start).Seconds(), kind)
	}
	return err
}
