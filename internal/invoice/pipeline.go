package invoice

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/bloomstock/backoffice/internal/pkg/distlock"
)

// Ledger records committed imports and their audit trail, and owns the
// duplicate-checksum guard. Implemented by importlog.Store.
type Ledger interface {
	// ClaimChecksum atomically registers an apply attempt. Returns
	// false when the checksum was already committed and force is off.
	ClaimChecksum(ctx context.Context, checksum, filename string, force bool) (bool, error)
	// RecordResult stores the outcome of a committed apply, including
	// its operations list.
	RecordResult(ctx context.Context, checksum string, res *Result) error
}

// Service runs the import pipeline. Preview and Apply share the first
// four stages; only Apply runs the duplicate guard and the upsert
// engine.
type Service struct {
	catalog Catalog
	ledger  Ledger
	now     func() time.Time

	// Applies mutate shared variant stock and are serialized. Previews
	// are pure and run concurrently without coordination. The mutex
	// covers this process; the optional distributed lock covers other
	// instances sharing the catalog.
	applyMu sync.Mutex
	lock    distlock.DistLock
}

// NewService creates the import service.
func NewService(catalog Catalog, ledger Ledger) *Service {
	return &Service{
		catalog: catalog,
		ledger:  ledger,
		now:     time.Now,
	}
}

// SetNow overrides the clock (useful for testing).
func (s *Service) SetNow(now func() time.Time) { s.now = now }

// SetDistLock enables cross-instance apply serialization.
func (s *Service) SetDistLock(lock distlock.DistLock) { s.lock = lock }

// Preview runs the non-mutating pass: parse, normalize, aggregate,
// cost. Safe to repeat; never consults the duplicate guard and never
// writes to the catalog.
func (s *Service) Preview(ctx context.Context, filename string, file io.Reader, opts Options) (*Result, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	res, err := s.runStages(data, filename, opts)
	if err != nil {
		return nil, err
	}
	res.Status = "dry-run"
	return res, nil
}

// Apply runs the mutating pass: the shared stages plus the duplicate
// guard and the upsert engine. The only call with side effects; callers
// must not retry it without operator confirmation — the checksum guard
// is the safety net for accidental resubmission.
func (s *Service) Apply(ctx context.Context, filename string, file io.Reader, opts Options) (*Result, error) {
	data, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}

	res, err := s.runStages(data, filename, opts)
	if err != nil {
		return nil, err
	}

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("acquire apply lock: %w", err)
		}
		if !acquired {
			return nil, ErrImportBusy
		}
		defer func() {
			if err := s.lock.Release(ctx); err != nil {
				log.Printf("[invoice] release apply lock: %v", err)
			}
		}()
	}

	claimed, err := s.ledger.ClaimChecksum(ctx, res.Checksum, filename, opts.ForceImport)
	if err != nil {
		return nil, fmt.Errorf("checksum guard: %w", err)
	}
	if !claimed {
		return nil, ErrDuplicateChecksum
	}
	if opts.ForceImport {
		res.Forced = true
		log.Printf("[invoice] forced duplicate apply of %s (checksum %.12s)", filename, res.Checksum)
	}

	u := &upserter{catalog: s.catalog, now: s.now}
	ops, upsertErr := u.upsertRows(ctx, res.Rows, opts.StockMode, &res.Stats)
	res.Operations = ops
	if upsertErr != nil {
		return nil, upsertErr
	}

	res.Status = "success"
	if err := s.ledger.RecordResult(ctx, res.Checksum, res); err != nil {
		// The catalog writes landed; a failed audit write must not look
		// like a failed import.
		log.Printf("[invoice] record import %.12s: %v", res.Checksum, err)
	}

	log.Printf("[invoice] applied %s: %d rows, %d errors, %d operations",
		filename, len(res.Rows), len(res.Errors), len(res.Operations))
	return res, nil
}

// runStages executes the shared pipeline: parse → normalize →
// aggregate → cost. Pure with respect to external state.
func (s *Service) runStages(data []byte, filename string, opts Options) (*Result, error) {
	raws, parseErrs, err := ParseFile(filename, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filename, err)
	}

	normRows, normErrs := NormalizeRows(raws, opts.Overrides)
	aggRows := AggregateRows(normRows)
	costed := NewCalculator(opts.CostMode, opts.FullCost).CostRows(aggRows)

	errs := append(append([]RowError{}, parseErrs...), normErrs...)

	return &Result{
		Stats: Stats{
			TotalRows: len(raws) + len(parseErrs),
			ValidRows: len(normRows),
		},
		Errors:   errs,
		Rows:     costed,
		Checksum: BatchChecksum(data),
	}, nil
}
