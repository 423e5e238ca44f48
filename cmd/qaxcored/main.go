// Command qaxcored runs the matching daemon: one HTTP listener in front of
// a risk gate, a single-threaded disruptor pipeline, and the per-instrument
// storage engine everything downstream of a fill settles against.
//
// Flow for a new order:
//
//	HTTP handler -> risk.CheckInsert -> disruptor ring buffer/sequencer ->
//	EventProcessor (single goroutine) -> matching.Exchange -> storage.Instrument.Write
//	(PersistFunc) -> risk/settlement bookkeeping + notify/gateway fan-out (NotifyFunc)
//
// Recovery on startup replays each instrument's SSTables and WAL tail
// through matching.Exchange before the HTTP listener opens, so a restart
// never serves a stale book.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rishav/qaxcore/internal/conversion"
	"github.com/rishav/qaxcore/internal/disruptor"
	"github.com/rishav/qaxcore/internal/gateway"
	"github.com/rishav/qaxcore/internal/matching"
	"github.com/rishav/qaxcore/internal/notify"
	"github.com/rishav/qaxcore/internal/record"
	"github.com/rishav/qaxcore/internal/recovery"
	"github.com/rishav/qaxcore/internal/risk"
	"github.com/rishav/qaxcore/internal/settlement"
	"github.com/rishav/qaxcore/internal/snapshot"
	"github.com/rishav/qaxcore/internal/storage"
)

// Config controls one daemon instance.
type Config struct {
	Port      int
	DataDir   string
	Symbols   []string
	GatewayID string
}

func main() {
	port := flag.Int("port", 8080, "HTTP listen port")
	dataDir := flag.String("data", "./data", "base directory for per-instrument storage")
	symbols := flag.String("symbols", "CLZ5,CLF6,ESZ5", "comma-separated tradable instruments")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Str("service", "qaxcored").Logger()

	cfg := Config{
		Port:      *port,
		DataDir:   *dataDir,
		Symbols:   strings.Split(*symbols, ","),
		GatewayID: "primary",
	}

	srv, err := NewServer(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("qaxcored: startup failed")
	}

	if err := srv.Start(); err != nil {
		log.Fatal().Err(err).Msg("qaxcored: start failed")
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("qaxcored: shutdown error")
	}
}

// Server owns every long-lived component: one storage.Instrument per
// tradable symbol, the matching exchange they durably back, the disruptor
// pipeline that serializes access to it, and the notification fan-out that
// tells the rest of the system what happened.
type Server struct {
	cfg Config
	log zerolog.Logger

	engine   *matching.Engine
	exchange *matching.Exchange

	instruments map[string]*storage.Instrument

	riskChecker   *risk.Checker
	clearingHouse *settlement.ClearingHouse
	broker        *notify.Broker
	hub           *gateway.Hub
	snapshots     *snapshot.Manager
	conversions   *conversion.Manager

	ringBuffer     *disruptor.RingBuffer
	sequencer      *disruptor.Sequencer
	eventProcessor *disruptor.EventProcessor

	httpServer *http.Server
}

// NewServer wires every component together and replays durable state for
// each instrument, but does not start accepting traffic yet (call Start).
func NewServer(cfg Config, log zerolog.Logger) (*Server, error) {
	engine := matching.NewEngine()
	for _, sym := range cfg.Symbols {
		engine.AddSymbol(strings.TrimSpace(sym))
	}
	exchange := matching.NewExchange(engine)

	s := &Server{
		cfg:           cfg,
		log:           log,
		engine:        engine,
		exchange:      exchange,
		instruments:   make(map[string]*storage.Instrument),
		riskChecker:   risk.NewChecker(risk.DefaultConfig()),
		clearingHouse: settlement.NewClearingHouse(),
		broker:        notify.New(30 * time.Second),
		hub:           gateway.NewHub(64, prometheus.DefaultRegisterer),
		snapshots:     snapshot.New(),
	}

	s.riskChecker.SetMarginSource(s.clearingHouse)
	s.broker.RegisterGateway(cfg.GatewayID, s.hub)

	for _, raw := range cfg.Symbols {
		sym := strings.TrimSpace(raw)
		instDir := filepath.Join(cfg.DataDir, sym)
		instCfg := storage.DefaultConfig(instDir)
		inst, err := storage.Open(sym, instCfg)
		if err != nil {
			return nil, fmt.Errorf("qaxcored: open storage for %s: %w", sym, err)
		}
		s.instruments[sym] = inst

		stats, err := recovery.Recover(instDir, recovery.HandlerFunc(func(seq uint64, p record.Payload) error {
			return s.replay(sym, p)
		}))
		if err != nil {
			return nil, fmt.Errorf("qaxcored: recover %s: %w", sym, err)
		}
		log.Info().
			Str("instrument", sym).
			Str("sstable_records", humanize.Comma(int64(stats.SSTableRecords))).
			Str("wal_records", humanize.Comma(int64(stats.WALRecords))).
			Uint64("last_sequence", stats.LastSequence).
			Msg("recovered instrument")
	}

	s.clearingHouse.GetOrCreateAccount("house", 0)

	trimmed := make([]string, len(cfg.Symbols))
	for i, raw := range cfg.Symbols {
		trimmed[i] = strings.TrimSpace(raw)
	}
	conv, err := conversion.Open(conversion.DefaultConfig(cfg.DataDir, trimmed))
	if err != nil {
		return nil, fmt.Errorf("qaxcored: open conversion manager: %w", err)
	}
	s.conversions = conv

	rb := disruptor.NewRingBuffer(disruptor.DefaultConfig())
	seq := disruptor.NewSequencer(rb)
	s.ringBuffer = rb
	s.sequencer = seq
	s.eventProcessor = disruptor.NewEventProcessor(rb, exchange, s.persist, s.notifyResult, log)

	mux := http.NewServeMux()
	mux.HandleFunc("/orders", s.handleOrders)
	mux.HandleFunc("/orders/cancel", s.handleCancel)
	mux.HandleFunc("/book", s.handleBook)
	mux.HandleFunc("/accounts/", s.handleAccount)
	mux.HandleFunc("/conversions", s.handleConversions)
	mux.HandleFunc("/stats", s.handleStats)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	return s, nil
}

// replay reproduces one recovered record's effect on the live book. The
// matching engine is a deterministic function of its input sequence, so
// re-submitting every historical OrderInsert through the same exchange
// rebuilds its order-ID maps and book state exactly as they were before
// the restart — there is no need to replay the TradeExecuted records it
// produced the first time, only the inserts and any cancellations that
// didn't originate from a match.
func (s *Server) replay(instrument string, p record.Payload) error {
	switch rec := p.(type) {
	case *record.OrderInsert:
		s.exchange.Submit(rec)
	case *record.OrderStatusUpdate:
		if record.OrderStatus(rec.Status) == record.OrderStatusCancelled {
			s.exchange.Cancel(instrument, rec.OrderID, rec.Timestamp)
		}
	}
	return nil
}

// Start opens the HTTP listener and the disruptor consumer goroutine.
func (s *Server) Start() error {
	s.eventProcessor.Start()
	go s.broker.Run()

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server stopped")
		}
	}()

	s.log.Info().Str("addr", s.httpServer.Addr).Strs("instruments", s.cfg.Symbols).Msg("listening")
	return nil
}

// Shutdown drains in-flight requests, stops the disruptor consumer, closes
// the notification broker, and flushes every instrument's storage in that
// order so nothing durable is lost mid-shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}
	s.eventProcessor.Shutdown()
	s.broker.Close()
	if err := s.conversions.Close(); err != nil {
		s.log.Error().Err(err).Msg("close conversion manager")
	}
	for sym, inst := range s.instruments {
		if err := inst.Close(); err != nil {
			s.log.Error().Err(err).Str("instrument", sym).Msg("close instrument")
		}
	}
	return nil
}

// persist is the PersistFunc handed to the disruptor's EventProcessor: it
// durably appends every payload produced for one request to that
// instrument's storage before the processor reports a response.
func (s *Server) persist(instrument string, payloads ...record.Payload) error {
	inst, ok := s.instruments[instrument]
	if !ok {
		return fmt.Errorf("qaxcored: unknown instrument %q", instrument)
	}
	for _, p := range payloads {
		if _, err := inst.Write(p); err != nil {
			return err
		}
	}
	return nil
}

// notifyResult is the NotifyFunc handed to the EventProcessor: it updates
// risk/clearing bookkeeping for every trade and fans the status updates
// and trades out to subscribers. statuses[0] is always the requester's
// own order; any further entries are resting maker orders a fill in this
// batch of trades touched, and get persisted the same as any other order
// update even though the HTTP response for this request never echoes them
// back to the maker (the maker isn't the caller on this request).
func (s *Server) notifyResult(instrument string, statuses []*record.OrderStatusUpdate, trades []record.TradeExecuted) {
	for i := range trades {
		te := &trades[i]
		buyer := s.exchange.AccountFor(te.BuyOrderID)
		seller := s.exchange.AccountFor(te.SellOrderID)

		s.riskChecker.RecordTrade(te, buyer, seller)
		trade := s.clearingHouse.RecordTradeExecuted(te, buyer, seller)

		for _, acct := range []string{buyer, seller} {
			if acct == "" {
				continue
			}
			updated := s.clearingHouse.GetOrCreateAccount(acct, 0)
			s.snapshots.PushPatch(acct, map[string]any{
				"cash":     updated.Cash,
				"holdings": updated.Holdings,
			})
		}

		payload, _ := json.Marshal(map[string]any{
			"trade_id": trade.ID,
			"symbol":   trade.Symbol,
			"price":    trade.Price,
			"quantity": trade.Quantity,
		})
		s.hub.Broadcast(gateway.Event{Instrument: instrument, Channel: "trade", Payload: payload})

		for _, acct := range []string{buyer, seller} {
			if acct == "" {
				continue
			}
			s.broker.Publish(&notify.Notification{
				UserID:    acct,
				Channel:   "trade",
				Priority:  0,
				Payload:   trade,
				Timestamp: time.Now(),
			})
		}
	}

	if len(statuses) > 0 {
		status := statuses[0]
		book := s.engine.GetOrderBook(decodeWireID(status.InstrumentID[:]))
		if book != nil {
			payload, _ := json.Marshal(map[string]any{
				"best_bid": book.GetBestBid(),
				"best_ask": book.GetBestAsk(),
			})
			s.hub.Broadcast(gateway.Event{Instrument: instrument, Channel: "orderbook", Payload: payload})
		}
	}
}

// ---- HTTP handlers ----

type orderRequest struct {
	Symbol    string  `json:"symbol"`
	AccountID string  `json:"account_id"`
	Side      string  `json:"side"` // "buy" or "sell"
	Price     float64 `json:"price"`
	Quantity  float64 `json:"quantity"`
}

type orderResponse struct {
	OrderID string             `json:"order_id"`
	Status  string             `json:"status,omitempty"`
	Filled  float64            `json:"filled_volume,omitempty"`
	Left    float64            `json:"left_volume,omitempty"`
	Trades  []tradeView        `json:"trades,omitempty"`
	Error   string             `json:"error,omitempty"`
}

type tradeView struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	direction := record.DirectionBuy
	if strings.EqualFold(req.Side, "sell") {
		direction = record.DirectionSell
	}

	orderID := uuid.New().String()
	ins := &record.OrderInsert{
		InstrumentID: encodeInstrumentID(req.Symbol),
		OrderID:      encodeID64(orderID),
		AccountID:    encodeID64(req.AccountID),
		Direction:    uint8(direction),
		Offset:       uint8(record.OffsetOpen),
		Price:        req.Price,
		Volume:       req.Quantity,
		Timestamp:    time.Now().UnixNano(),
	}

	if check := s.riskChecker.CheckInsert(ins); !check.Passed {
		writeJSON(w, http.StatusForbidden, orderResponse{OrderID: orderID, Error: check.Reason})
		return
	}

	respCh := make(chan *disruptor.OrderResponse, 1)
	if err := s.publish(&disruptor.OrderRequest{Type: disruptor.RequestTypeNewOrder, Order: ins}, respCh); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	select {
	case resp := <-respCh:
		writeJSON(w, http.StatusOK, toOrderResponse(orderID, resp))
		disruptor.ReleaseResponse(resp)
	case <-time.After(5 * time.Second):
		http.Error(w, "timed out waiting for match", http.StatusGatewayTimeout)
	}
}

type cancelRequest struct {
	Symbol  string `json:"symbol"`
	OrderID string `json:"order_id"`
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	respCh := make(chan *disruptor.OrderResponse, 1)
	creq := &disruptor.OrderRequest{
		Type:      disruptor.RequestTypeCancelOrder,
		Symbol:    req.Symbol,
		OrderID:   encodeID64(req.OrderID),
		Timestamp: time.Now().UnixNano(),
	}
	if err := s.publish(creq, respCh); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	select {
	case resp := <-respCh:
		writeJSON(w, http.StatusOK, toOrderResponse(req.OrderID, resp))
		disruptor.ReleaseResponse(resp)
	case <-time.After(5 * time.Second):
		http.Error(w, "timed out waiting for cancel", http.StatusGatewayTimeout)
	}
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	levels := 5
	if l := r.URL.Query().Get("levels"); l != "" {
		if n, err := strconv.Atoi(l); err == nil {
			levels = n
		}
	}

	book := s.engine.GetOrderBook(symbol)
	if book == nil {
		http.Error(w, "unknown symbol", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"symbol": symbol,
		"bids":   book.GetBidDepth(levels),
		"asks":   book.GetAskDepth(levels),
	})
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/accounts/")
	if id == "" {
		http.Error(w, "missing account id", http.StatusBadRequest)
		return
	}

	// A "/snapshot" suffix long-polls for account-state patches instead of
	// returning the full account: clients track cash/holdings by replaying
	// the patch stream rather than re-fetching the whole document each time.
	if rest, ok := strings.CutSuffix(id, "/snapshot"); ok {
		s.handleAccountSnapshot(w, r, rest)
		return
	}

	acct := s.clearingHouse.GetOrCreateAccount(id, 0)
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": acct.ID,
		"cash":       acct.Cash,
		"holdings":   acct.Holdings,
	})
}

func (s *Server) handleAccountSnapshot(w http.ResponseWriter, r *http.Request, id string) {
	timeout := 25 * time.Second
	if t := r.URL.Query().Get("wait"); t != "" {
		if d, err := time.ParseDuration(t); err == nil {
			timeout = d
		}
	}

	patches, ok := s.snapshots.Peek(id, timeout)
	writeJSON(w, http.StatusOK, map[string]any{
		"account_id": id,
		"patches":    patches,
		"timed_out":  !ok,
	})
}

func (s *Server) handleConversions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": s.conversions.Tasks(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	storageStats := make(map[string]storage.Stats, len(s.instruments))
	storageHuman := make(map[string]string, len(s.instruments))
	for sym, inst := range s.instruments {
		st := inst.Stats()
		storageStats[sym] = st
		storageHuman[sym] = humanize.Bytes(uint64(st.MemTableBytes))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"storage":       storageStats,
		"storage_human": storageHuman,
		"broker":      s.broker.StatsSnapshot(),
		"settlement":  s.clearingHouse.GetSettlementStats(),
		"ring_buffer": s.ringBuffer.GetBufferSize(),
		"conversion_pending": s.conversions.CountByState(conversion.StatePending) +
			s.conversions.CountByState(conversion.StateConverting),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) publish(req *disruptor.OrderRequest, respCh chan *disruptor.OrderResponse) error {
	seqNum, err := s.sequencer.Next()
	if err != nil {
		return fmt.Errorf("ring buffer backpressure: %w", err)
	}
	s.sequencer.Publish(seqNum, req, respCh)
	return nil
}

func toOrderResponse(orderID string, resp *disruptor.OrderResponse) orderResponse {
	out := orderResponse{OrderID: orderID}
	if resp.Error != nil {
		out.Error = resp.Error.Error()
	}
	if resp.Status != nil {
		out.Status = orderStatusName(record.OrderStatus(resp.Status.Status))
		out.Filled = resp.Status.FilledVolume
		out.Left = resp.Status.LeftVolume
	}
	for _, t := range resp.Trades {
		out.Trades = append(out.Trades, tradeView{Price: t.Price, Volume: t.Volume})
	}
	return out
}

func orderStatusName(s record.OrderStatus) string {
	switch s {
	case record.OrderStatusAlive:
		return "ALIVE"
	case record.OrderStatusFinished:
		return "FINISHED"
	case record.OrderStatusCancelled:
		return "CANCELLED"
	case record.OrderStatusRejected:
		return "REJECTED"
	case record.OrderStatusPartiallyFilled:
		return "PARTIALLY_FILLED"
	default:
		return "UNKNOWN"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// encodeID64 and encodeInstrumentID copy s into a zero-padded
// fixed-width byte array matching record's OrderID/AccountID and
// InstrumentID widths respectively.
func encodeID64(s string) [64]byte {
	var buf [64]byte
	copy(buf[:], s)
	return buf
}

func encodeInstrumentID(s string) [16]byte {
	var buf [16]byte
	copy(buf[:], s)
	return buf
}

func decodeWireID(buf []byte) string {
	if n := strings.IndexByte(string(buf), 0); n >= 0 {
		return string(buf[:n])
	}
	return string(buf)
}
