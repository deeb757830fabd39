/*
scheduler.go - Automated accounting export scheduler

PURPOSE:
  Periodically exports every account's settlements that are paid up to
  the previous day and not yet handed to bookkeeping to a CSV file, so the
  bookkeeping tool can pick them up without anyone calling the export
  endpoint.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Acts as generic.SystemPrincipal, which must hold a global
    control_expense grant
  - Skips a day already written for an account (file exists)
  - Writes <Dir>/<designation>-<YYYY-MM-DD>.csv only when there are rows
  - A settlement backdated into an already exported day lands in the
    next day's file, since the export only hands over unreconciled rows

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewExportScheduler(ledger, svc, dir, logger)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - transfers.go: ExportAccounting endpoint (manual export)
  - gestion/export.go: row building and CSV layout
*/
package api

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/warp/finance-engine/donations"
	"github.com/warp/finance-engine/generic"
	"github.com/warp/finance-engine/gestion"
	"github.com/warp/finance-engine/obs"
)

// ExportScheduler writes daily accounting exports.
type ExportScheduler struct {
	Ledger        *donations.Ledger
	Gestion       *gestion.Service
	Dir           string
	CheckInterval time.Duration
	Enabled       bool
	Logger        *slog.Logger
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewExportScheduler creates a new scheduler writing into dir.
func NewExportScheduler(ledger *donations.Ledger, svc *gestion.Service, dir string, logger *slog.Logger) *ExportScheduler {
	return &ExportScheduler{
		Ledger:        ledger,
		Gestion:       svc,
		Dir:           dir,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Logger:        logger,
	}
}

func (es *ExportScheduler) log() *slog.Logger { return obs.OrDefault(es.Logger).With("component", "export_scheduler") }

// Start begins the scheduler.
func (es *ExportScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		es.log().Info("disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run()

	es.log().Info("started", "interval", es.CheckInterval, "dir", es.Dir)
}

// Stop stops the scheduler and waits for a running export to finish.
func (es *ExportScheduler) Stop() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if es.ticker != nil {
		es.ticker.Stop()
		close(es.stop)
		es.wg.Wait()
		es.ticker = nil
		es.log().Info("stopped")
	}
}

func (es *ExportScheduler) run() {
	defer es.wg.Done()

	// Run immediately on start
	es.RunNow(context.Background())

	for {
		select {
		case <-es.ticker.C:
			es.RunNow(context.Background())
		case <-es.stop:
			return
		}
	}
}

// RunNow exports, for every account, the unreconciled settlements paid up
// to the previous day and returns the paths written.
func (es *ExportScheduler) RunNow(ctx context.Context) []string {
	now := time.Now()
	if es.Now != nil {
		now = es.Now()
	}
	period := generic.PeriodConfig{Type: generic.PeriodDay}.Previous(now)
	day := period.Start

	accounts, err := es.Ledger.ListAccounts(ctx)
	if err != nil {
		es.log().Error("list accounts", "error", err)
		return nil
	}
	if err := os.MkdirAll(es.Dir, 0o755); err != nil {
		es.log().Error("create export dir", "dir", es.Dir, "error", err)
		return nil
	}

	var written []string
	skipped := 0
	for _, a := range accounts {
		path := filepath.Join(es.Dir, fmt.Sprintf("%s-%s.csv", a.Designation, day.Format(generic.DateLayout)))
		if _, err := os.Stat(path); err == nil {
			skipped++
			continue
		}
		n, err := es.exportAccount(ctx, a.ID, period.End, path)
		if err != nil {
			es.log().Error("export account", "account", a.Designation, "day", day.Format(generic.DateLayout), "error", err)
			continue
		}
		if n > 0 {
			written = append(written, path)
		}
	}

	if len(written) > 0 || skipped > 0 {
		es.log().Info("export completed", "written", len(written), "skipped", skipped)
	}
	return written
}

func (es *ExportScheduler) exportAccount(ctx context.Context, accountID string, upTo time.Time, path string) (int, error) {
	rows, err := es.Gestion.ExportUnreconciled(ctx, generic.SystemPrincipal, accountID, upTo)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	var buf bytes.Buffer
	if err := gestion.WriteCSV(&buf, rows); err != nil {
		return 0, err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return 0, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return len(rows), nil
}

// GetNextRunTime returns when the next scheduled check will occur.
func (es *ExportScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(es.CheckInterval)
}
