// Package persistence writes market data to the on-disk catalog consumed
// by downstream tooling. Layout: one file per (data-type, instrument-id,
// UTC day) under <type>/<instrument-id>/YYYYMMDD.jsonl; bar files embed
// the bar type in the directory instead of the bare instrument id.
package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"trading-node-go/bus"
	"trading-node-go/model"
)

// CatalogPathEnv selects the catalog root; absence falls back to the
// process working directory.
const CatalogPathEnv = "NAUTILUS_CATALOG_PATH"

// CatalogRoot resolves the output root.
func CatalogRoot() string {
	if root := os.Getenv(CatalogPathEnv); root != "" {
		return root
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// WriterConfig tunes rotation. Rotation always happens on the UTC day
// boundary; MaxFileBytes additionally rotates large files within a day.
type WriterConfig struct {
	Root         string `yaml:"root"`
	MaxFileBytes int64  `yaml:"max_file_bytes"`
}

type openFile struct {
	f       *os.File
	day     string
	written int64
	part    int
}

// CatalogWriter appends JSON-lines records, one directory per stream.
type CatalogWriter struct {
	log *zap.Logger
	cfg WriterConfig

	mu    sync.Mutex
	files map[string]*openFile // keyed by stream directory
}

func NewCatalogWriter(log *zap.Logger, cfg WriterConfig) *CatalogWriter {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Root == "" {
		cfg.Root = CatalogRoot()
	}
	return &CatalogWriter{
		log:   log,
		cfg:   cfg,
		files: make(map[string]*openFile),
	}
}

func (w *CatalogWriter) WriteQuoteTick(q model.QuoteTick) error {
	return w.write(streamDir("quotes", q.InstrumentID.String()), q.TsEvent, q)
}

func (w *CatalogWriter) WriteTradeTick(t model.TradeTick) error {
	return w.write(streamDir("trades", t.InstrumentID.String()), t.TsEvent, t)
}

func (w *CatalogWriter) WriteBar(b model.Bar) error {
	return w.write(streamDir("bars", b.BarType.String()), b.TsEvent, b)
}

func (w *CatalogWriter) WriteBookDelta(d model.OrderBookDelta) error {
	return w.write(streamDir("book_deltas", d.InstrumentID.String()), d.TsEvent, d)
}

func (w *CatalogWriter) WriteMarkPrice(p model.MarkPrice) error {
	return w.write(streamDir("mark_prices", p.InstrumentID.String()), p.TsEvent, p)
}

func (w *CatalogWriter) WriteFundingRate(r model.FundingRate) error {
	return w.write(streamDir("funding_rates", r.InstrumentID.String()), r.TsEvent, r)
}

func streamDir(dataType, stream string) string {
	return filepath.Join(dataType, stream)
}

// write appends one record, rotating on day boundary or size.
func (w *CatalogWriter) write(dir string, tsEvent model.UnixNanos, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("catalog: marshal for %s: %w", dir, err)
	}
	day := time.Unix(0, tsEvent).UTC().Format("20060102")

	w.mu.Lock()
	defer w.mu.Unlock()

	of, err := w.fileFor(dir, day, int64(len(data))+1)
	if err != nil {
		return err
	}
	n, err := of.f.Write(append(data, '\n'))
	of.written += int64(n)
	if err != nil {
		return fmt.Errorf("catalog: write %s: %w", dir, err)
	}
	return nil
}

func (w *CatalogWriter) fileFor(dir, day string, incoming int64) (*openFile, error) {
	of, ok := w.files[dir]
	if ok {
		rotate := of.day != day ||
			(w.cfg.MaxFileBytes > 0 && of.written+incoming > w.cfg.MaxFileBytes)
		if !rotate {
			return of, nil
		}
		if err := of.f.Close(); err != nil {
			w.log.Warn("catalog: close before rotate failed",
				zap.String("dir", dir), zap.Error(err))
		}
		part := 0
		if of.day == day {
			part = of.part + 1
		}
		delete(w.files, dir)
		return w.open(dir, day, part)
	}
	return w.open(dir, day, 0)
}

func (w *CatalogWriter) open(dir, day string, part int) (*openFile, error) {
	full := filepath.Join(w.cfg.Root, dir)
	if err := os.MkdirAll(full, 0o755); err != nil {
		return nil, fmt.Errorf("catalog: mkdir %s: %w", full, err)
	}
	name := day + ".jsonl"
	if part > 0 {
		name = fmt.Sprintf("%s-%d.jsonl", day, part)
	}
	path := filepath.Join(full, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("catalog: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	of := &openFile{f: f, day: day, written: info.Size(), part: part}
	w.files[dir] = of
	return of, nil
}

// Close flushes and closes every open file.
func (w *CatalogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	var firstErr error
	for dir, of := range w.files {
		if err := of.f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("catalog: close %s: %w", dir, err)
		}
		delete(w.files, dir)
	}
	return firstErr
}

// Feeder subscribes a writer to the bus data topics.
type Feeder struct {
	writer *CatalogWriter
	log    *zap.Logger
	unsubs []func()
}

func NewFeeder(log *zap.Logger, writer *CatalogWriter, msgb *bus.Bus) *Feeder {
	if log == nil {
		log = zap.NewNop()
	}
	fd := &Feeder{writer: writer, log: log}
	fd.unsubs = append(fd.unsubs,
		msgb.Subscribe("data.quotes.**", fd.handle),
		msgb.Subscribe("data.trades.**", fd.handle),
		msgb.Subscribe("data.bars.**", fd.handle),
		msgb.Subscribe("data.book.deltas.**", fd.handle),
		msgb.Subscribe("data.mark_prices.**", fd.handle),
		msgb.Subscribe("data.funding_rates.**", fd.handle),
	)
	return fd
}

func (fd *Feeder) handle(msg any) {
	var err error
	switch d := msg.(type) {
	case model.QuoteTick:
		err = fd.writer.WriteQuoteTick(d)
	case model.TradeTick:
		err = fd.writer.WriteTradeTick(d)
	case model.Bar:
		err = fd.writer.WriteBar(d)
	case model.OrderBookDelta:
		err = fd.writer.WriteBookDelta(d)
	case model.MarkPrice:
		err = fd.writer.WriteMarkPrice(d)
	case model.FundingRate:
		err = fd.writer.WriteFundingRate(d)
	default:
		return
	}
	if err != nil {
		fd.log.Warn("catalog: write failed", zap.Error(err))
	}
}

func (fd *Feeder) Close() {
	for _, unsub := range fd.unsubs {
		unsub()
	}
}
