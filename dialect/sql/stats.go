package sql

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/strata/dialect"
)

// QueryStats holds query execution statistics.
type QueryStats struct {
	// TotalQueries is the total number of queries executed.
	TotalQueries atomic.Int64
	// TotalExecs is the total number of exec statements executed.
	TotalExecs atomic.Int64
	// TotalDuration is the total time spent executing queries.
	TotalDuration atomic.Int64 // nanoseconds
	// SlowQueries is the count of queries exceeding the slow threshold.
	SlowQueries atomic.Int64
	// Errors is the count of query errors.
	Errors atomic.Int64
}

// Stats returns a snapshot of the current statistics.
func (s *QueryStats) Stats() StatsSnapshot {
	return StatsSnapshot{
		TotalQueries:  s.TotalQueries.Load(),
		TotalExecs:    s.TotalExecs.Load(),
		TotalDuration: time.Duration(s.TotalDuration.Load()),
		SlowQueries:   s.SlowQueries.Load(),
		Errors:        s.Errors.Load(),
	}
}

// Reset resets all statistics to zero.
func (s *QueryStats) Reset() {
	s.TotalQueries.Store(0)
	s.TotalExecs.Store(0)
	s.TotalDuration.Store(0)
	s.SlowQueries.Store(0)
	s.Errors.Store(0)
}

// StatsSnapshot is a point-in-time snapshot of query statistics.
type StatsSnapshot struct {
	TotalQueries  int64
	TotalExecs    int64
	TotalDuration time.Duration
	SlowQueries   int64
	Errors        int64
}

// AvgQueryDuration returns the average query duration.
func (s StatsSnapshot) AvgQueryDuration() time.Duration {
	total := s.TotalQueries + s.TotalExecs
	if total == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(total)
}

// String returns a human-readable summary of the statistics.
func (s StatsSnapshot) String() string {
	return fmt.Sprintf(
		"queries=%d execs=%d duration=%s avg=%s slow=%d errors=%d",
		s.TotalQueries, s.TotalExecs, s.TotalDuration, s.AvgQueryDuration(),
		s.SlowQueries, s.Errors,
	)
}

// SlowQueryHook is a function called when a slow query is detected.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsBackend wraps a Backend with statement statistics collection.
type StatsBackend struct {
	*Backend
	stats         *QueryStats
	slowThreshold time.Duration
	slowHook      SlowQueryHook
	mu            sync.RWMutex
}

// StatsOption configures the StatsBackend.
type StatsOption func(*StatsBackend)

// WithSlowThreshold sets the threshold for slow query detection.
// Statements taking longer than this duration will be counted as slow queries.
// Default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsBackend) {
		s.slowThreshold = d
	}
}

// WithSlowQueryHook sets a callback function for slow queries.
// The hook is called whenever a statement exceeds the slow threshold.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsBackend) {
		s.slowHook = hook
	}
}

// WithSlowQueryLog logs slow queries to the given logger, or to the
// backend's logger when l is nil.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	return func(s *StatsBackend) {
		logger := l
		if logger == nil {
			logger = s.logger
		}
		s.slowHook = func(_ context.Context, query string, args []any, duration time.Duration) {
			logger.Warn("slow query detected", "backend", s.name, "duration", duration, "query", query, "args", args)
		}
	}
}

// NewStatsBackend wraps a Backend with statistics collection.
//
// Example:
//
//	b, _ := sql.OpenPostgres("main", dsn)
//	sb := sql.NewStatsBackend(b,
//	    sql.WithSlowThreshold(200*time.Millisecond),
//	    sql.WithSlowQueryLog(nil),
//	)
//	db := orm.New(reg, orm.WithBackend(sb))
//
//	// Later, check statistics:
//	fmt.Println(sb.QueryStats().Stats())
func NewStatsBackend(b *Backend, opts ...StatsOption) *StatsBackend {
	s := &StatsBackend{
		Backend:       b,
		stats:         &QueryStats{},
		slowThreshold: 100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// QueryStats returns the underlying QueryStats for reading statistics.
func (s *StatsBackend) QueryStats() *QueryStats {
	return s.stats
}

// SlowThreshold returns the current slow query threshold.
func (s *StatsBackend) SlowThreshold() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slowThreshold
}

// SetSlowThreshold updates the slow query threshold.
func (s *StatsBackend) SetSlowThreshold(threshold time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowThreshold = threshold
}

// Query runs a statement and records statistics.
func (s *StatsBackend) Query(ctx context.Context, stmt *dialect.Statement) (dialect.Rows, error) {
	start := time.Now()
	rows, err := s.Backend.Query(ctx, stmt)
	s.record(ctx, stmt, start, err, true)
	return rows, err
}

// Exec runs a statement and records statistics.
func (s *StatsBackend) Exec(ctx context.Context, stmt *dialect.Statement) (dialect.Result, error) {
	start := time.Now()
	res, err := s.Backend.Exec(ctx, stmt)
	s.record(ctx, stmt, start, err, false)
	return res, err
}

func (s *StatsBackend) record(ctx context.Context, stmt *dialect.Statement, start time.Time, err error, isQuery bool) {
	duration := time.Since(start)
	if isQuery {
		s.stats.TotalQueries.Add(1)
	} else {
		s.stats.TotalExecs.Add(1)
	}
	s.stats.TotalDuration.Add(int64(duration))

	if err != nil {
		s.stats.Errors.Add(1)
	}

	s.mu.RLock()
	threshold := s.slowThreshold
	hook := s.slowHook
	s.mu.RUnlock()

	if duration > threshold {
		s.stats.SlowQueries.Add(1)
		if hook != nil {
			hook(ctx, stmt.SQL, stmt.Args, duration)
		}
	}
}

// DebugBackend wraps a Backend and logs every statement and transaction
// step at debug level.
type DebugBackend struct {
	*Backend
	log func(context.Context, ...any)
}

// DebugOption configures the DebugBackend.
type DebugOption func(*DebugBackend)

// DebugWithLog sets a custom log function.
func DebugWithLog(logFunc func(context.Context, ...any)) DebugOption {
	return func(d *DebugBackend) {
		d.log = logFunc
	}
}

// NewDebugBackend wraps a Backend with debug logging.
func NewDebugBackend(b *Backend, opts ...DebugOption) *DebugBackend {
	d := &DebugBackend{
		Backend: b,
		log: func(ctx context.Context, v ...any) {
			b.logger.DebugContext(ctx, fmt.Sprint(v...), "backend", b.name)
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Query runs a statement and logs it.
func (d *DebugBackend) Query(ctx context.Context, stmt *dialect.Statement) (dialect.Rows, error) {
	d.log(ctx, fmt.Sprintf("query: %s args: %v", stmt.SQL, stmt.Args))
	return d.Backend.Query(ctx, stmt)
}

// Exec runs a statement and logs it.
func (d *DebugBackend) Exec(ctx context.Context, stmt *dialect.Statement) (dialect.Result, error) {
	d.log(ctx, fmt.Sprintf("exec: %s args: %v", stmt.SQL, stmt.Args))
	return d.Backend.Exec(ctx, stmt)
}

// BeginTransaction opens a transaction and logs it.
func (d *DebugBackend) BeginTransaction(ctx context.Context) error {
	d.log(ctx, "begin transaction")
	return d.Backend.BeginTransaction(ctx)
}

// Commit commits the transaction and logs it.
func (d *DebugBackend) Commit(ctx context.Context) error {
	d.log(ctx, "commit transaction")
	return d.Backend.Commit(ctx)
}

// Rollback rolls back the transaction and logs it.
func (d *DebugBackend) Rollback(ctx context.Context) error {
	d.log(ctx, "rollback transaction")
	return d.Backend.Rollback(ctx)
}

// Ensure interfaces are implemented.
var (
	_ dialect.Distributed = (*StatsBackend)(nil)
	_ dialect.Distributed = (*DebugBackend)(nil)
)

// OpenWithStats opens a backend with statistics collection enabled.
//
// Example:
//
//	b, stats, err := sql.OpenWithStats("main", dialect.Postgres, dsn,
//	    sql.WithSlowThreshold(100*time.Millisecond),
//	    sql.WithSlowQueryLog(nil),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Monitor statistics periodically
//	go func() {
//	    for range time.Tick(time.Minute) {
//	        slog.Info("query stats", "stats", stats.Stats())
//	    }
//	}()
func OpenWithStats(name, dialectName, dsn string, opts ...StatsOption) (*StatsBackend, *QueryStats, error) {
	b, err := Open(name, dialectName, dsn)
	if err != nil {
		return nil, nil, err
	}
	sb := NewStatsBackend(b, opts...)
	return sb, sb.QueryStats(), nil
}
