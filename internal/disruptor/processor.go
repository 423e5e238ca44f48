package disruptor

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/rishav/qaxcore/internal/matching"
	"github.com/rishav/qaxcore/internal/record"
)

// PersistFunc durably records payloads produced for one instrument before
// (or alongside) a response is sent back to the caller. The processor
// calls it synchronously, in processing order, so a crash between persist
// and response can never leave a trade unrecorded.
type PersistFunc func(instrument string, payloads ...record.Payload) error

// NotifyFunc is called after a request's payloads are persisted, so
// risk/settlement bookkeeping and outbound notifications can run without
// blocking the ring buffer consumer on their own I/O. It is invoked from
// the processor's single goroutine; callers that need to fan out further
// should do so asynchronously themselves. statuses holds every order
// touched by the request — the requester's own update first, followed by
// one per resting maker order a fill matched against.
type NotifyFunc func(instrument string, statuses []*record.OrderStatusUpdate, trades []record.TradeExecuted)

// EventProcessor drains the ring buffer in a single goroutine and drives
// the matching exchange. Single-threaded consumption is what makes the
// exchange's output deterministic: the same sequence of requests always
// produces the same sequence of fills.
type EventProcessor struct {
	rb           *RingBuffer
	exchange     *matching.Exchange
	persist      PersistFunc
	notify       NotifyFunc
	log          zerolog.Logger
	running      atomic.Bool
	shutdownCh   chan struct{}
	shutdownDone chan struct{}
}

// NewEventProcessor creates a processor that submits every request on rb to
// exchange, persists the resulting records via persist, and reports them to
// notify. notify may be nil if the caller has nothing to do with them.
func NewEventProcessor(rb *RingBuffer, exchange *matching.Exchange, persist PersistFunc, notify NotifyFunc, log zerolog.Logger) *EventProcessor {
	return &EventProcessor{
		rb:           rb,
		exchange:     exchange,
		persist:      persist,
		notify:       notify,
		log:          log.With().Str("component", "event_processor").Logger(),
		shutdownCh:   make(chan struct{}),
		shutdownDone: make(chan struct{}),
	}
}

// Start begins processing requests from the ring buffer.
func (p *EventProcessor) Start() {
	p.running.Store(true)
	go p.processLoop()
}

// processLoop is the main processing loop (single goroutine).
//
// This loop maintains determinism by processing requests sequentially in
// sequence number order. It never uses locks, relying on the single
// goroutine for correctness.
func (p *EventProcessor) processLoop() {
	defer close(p.shutdownDone)

	nextSequence := uint64(1) // Start at 1 (0 is initial state)

	for p.running.Load() {
		index := nextSequence & p.rb.indexMask
		slot := &p.rb.slots[index]

		// Spin-wait for publisher to finish writing. The slot is ready
		// when its SequenceNum matches our expected sequence.
		for {
			available := atomic.LoadUint64(&slot.SequenceNum)
			if available == nextSequence {
				break
			}

			select {
			case <-p.shutdownCh:
				return
			default:
				runtime.Gosched()
			}
		}

		p.processRequest(slot)

		// Update gating sequence to allow this slot to be reused.
		atomic.StoreUint64(&p.rb.gatingSequence, nextSequence)

		nextSequence++
	}
}

// processRequest processes a single request from the ring buffer.
func (p *EventProcessor) processRequest(slot *RingBufferSlot) {
	req := slot.Request
	responseCh := slot.ResponseCh

	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Interface("panic", r).Msg("event processor panic")
			resp := AcquireResponse()
			resp.Success = false
			resp.Error = fmt.Errorf("internal error: %v", r)
			p.sendOrRelease(responseCh, resp)
		}
	}()

	switch req.Type {
	case RequestTypeNewOrder:
		p.processNewOrder(req, responseCh)
	case RequestTypeCancelOrder:
		p.processCancelOrder(req, responseCh)
	default:
		resp := AcquireResponse()
		resp.Success = false
		resp.Error = fmt.Errorf("unknown request type: %d", req.Type)
		p.sendOrRelease(responseCh, resp)
	}
}

// sendOrRelease is the non-blocking handoff every response path uses: the
// response channel is always buffered for exactly the one reply a request
// gets, so the default branch below only fires when nothing will ever
// read resp — in which case it goes straight back to the pool instead of
// leaking until the next GC.
func (p *EventProcessor) sendOrRelease(responseCh chan *OrderResponse, resp *OrderResponse) {
	select {
	case responseCh <- resp:
	default:
		ReleaseResponse(resp)
		p.log.Warn().Msg("failed to send order response")
	}
}

func (p *EventProcessor) processNewOrder(req *OrderRequest, responseCh chan *OrderResponse) {
	ins := req.Order
	statuses, trades := p.exchange.Submit(ins)

	instrument := req.Symbol
	if instrument == "" {
		// New-order requests carry the instrument only inside the record.
		n := 0
		for n < len(ins.InstrumentID) && ins.InstrumentID[n] != 0 {
			n++
		}
		instrument = string(ins.InstrumentID[:n])
	}
	payloads := acquirePayloads()
	defer func() { releasePayloads(payloads) }()

	payloads = append(payloads, ins)
	for _, st := range statuses {
		payloads = append(payloads, st)
	}
	for i := range trades {
		payloads = append(payloads, &trades[i])
	}

	if p.persist != nil {
		if err := p.persist(instrument, payloads...); err != nil {
			resp := AcquireResponse()
			resp.Success = false
			resp.Error = fmt.Errorf("persist: %w", err)
			p.sendOrRelease(responseCh, resp)
			return
		}
	}

	if p.notify != nil {
		p.notify(instrument, statuses, trades)
	}

	resp := AcquireResponse()
	resp.Success = true
	resp.Status = statuses[0]
	resp.Statuses = statuses
	resp.Trades = trades
	p.sendOrRelease(responseCh, resp)
}

func (p *EventProcessor) processCancelOrder(req *OrderRequest, responseCh chan *OrderResponse) {
	status, err := p.exchange.Cancel(req.Symbol, req.OrderID, req.Timestamp)

	if err == nil && p.persist != nil {
		if perr := p.persist(req.Symbol, status); perr != nil {
			resp := AcquireResponse()
			resp.Success = false
			resp.Error = fmt.Errorf("persist: %w", perr)
			p.sendOrRelease(responseCh, resp)
			return
		}
	}

	if err == nil && p.notify != nil {
		p.notify(req.Symbol, []*record.OrderStatusUpdate{status}, nil)
	}

	resp := AcquireResponse()
	resp.Success = err == nil
	resp.Status = status
	if status != nil {
		resp.Statuses = []*record.OrderStatusUpdate{status}
	}
	resp.Error = err
	p.sendOrRelease(responseCh, resp)
}

// Shutdown stops accepting new requests and waits for the in-flight one
// (if any) to finish.
func (p *EventProcessor) Shutdown() {
	p.log.Info().Msg("shutting down event processor")
	p.running.Store(false)
	close(p.shutdownCh)
	<-p.shutdownDone
	p.log.Info().Msg("event processor shutdown complete")
}
