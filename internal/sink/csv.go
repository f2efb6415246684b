// Package sink records the simulation's event streams to CSV files.
//
// A Sink subscribes to the kernel bus and appends one row per event:
// trades.csv for matches, orders.csv for the order log, rejects.csv for
// rejections. Rows are flushed per write so a crash mid-run loses at
// most the row in flight. The files are plain enough to load straight
// into a spreadsheet or pandas.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"marketsim/internal/kernel"
)

// Sink writes bus events to CSV files in a designated directory.
// All operations are mutex-protected; the bus delivers on the tick
// thread but Close may be called from the shutdown path.
type Sink struct {
	dir    string
	mu     sync.Mutex
	files  []*os.File
	trades *csv.Writer
	orders *csv.Writer
	rejs   *csv.Writer
	subs   []struct {
		ev kernel.EventType
		id kernel.Subscription
	}
	bus    *kernel.Bus
	logger *slog.Logger
}

// Open creates the data directory and the three CSV files, writing a
// header row into each.
func Open(dir string, logger *slog.Logger) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	s := &Sink{dir: dir, logger: logger.With("component", "sink")}

	var err error
	if s.trades, err = s.open("trades.csv", []string{"ts_ns", "symbol", "price", "qty", "maker", "taker", "maker_side"}); err != nil {
		return nil, err
	}
	if s.orders, err = s.open("orders.csv", []string{"ts_ns", "from", "kind", "body"}); err != nil {
		return nil, err
	}
	if s.rejs, err = s.open("rejects.csv", []string{"ts_ns", "agent", "reason", "ref_type"}); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sink) open(name string, header []string) (*csv.Writer, error) {
	f, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", name, err)
	}
	s.files = append(s.files, f)
	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("write %s header: %w", name, err)
	}
	w.Flush()
	return w, nil
}

// Attach subscribes the sink to the bus. Call before the kernel starts.
func (s *Sink) Attach(bus *kernel.Bus) {
	s.bus = bus
	s.subscribe(kernel.EventTrade, s.onTrade)
	s.subscribe(kernel.EventOrderLog, s.onOrderLog)
	s.subscribe(kernel.EventOrderRejected, s.onReject)
}

func (s *Sink) subscribe(ev kernel.EventType, h kernel.Handler) {
	id := s.bus.On(ev, h)
	s.subs = append(s.subs, struct {
		ev kernel.EventType
		id kernel.Subscription
	}{ev, id})
}

// Close detaches from the bus and closes the files.
func (s *Sink) Close() error {
	if s.bus != nil {
		for _, sub := range s.subs {
			s.bus.Off(sub.ev, sub.id)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.files = nil
	return firstErr
}

func (s *Sink) onTrade(ev kernel.Event) {
	tr := ev.Trade
	s.write(s.trades, []string{
		strconv.FormatInt(tr.Ts, 10),
		tr.Symbol,
		strconv.FormatInt(tr.Price, 10),
		strconv.FormatInt(tr.Qty, 10),
		strconv.Itoa(int(tr.Maker)),
		strconv.Itoa(int(tr.Taker)),
		tr.MakerSide.String(),
	})
}

func (s *Sink) onOrderLog(ev kernel.Event) {
	lg := ev.OrderLog
	body, err := json.Marshal(lg.Body)
	if err != nil {
		body = []byte(fmt.Sprintf("%+v", lg.Body))
	}
	s.write(s.orders, []string{
		strconv.FormatInt(lg.At, 10),
		strconv.Itoa(int(lg.From)),
		lg.Kind.String(),
		string(body),
	})
}

func (s *Sink) onReject(ev kernel.Event) {
	rj := ev.Reject
	s.write(s.rejs, []string{
		strconv.FormatInt(rj.At, 10),
		strconv.Itoa(int(rj.Agent)),
		rj.Reason,
		rj.RefType.String(),
	})
}

func (s *Sink) write(w *csv.Writer, row []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := w.Write(row); err != nil {
		s.logger.Error("csv write failed", "error", err)
		return
	}
	w.Flush()
	if err := w.Error(); err != nil {
		s.logger.Error("csv flush failed", "error", err)
	}
}
