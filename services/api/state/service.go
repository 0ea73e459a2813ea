// Package state owns the in-memory module tree. It rebuilds the tree from
// the database, patches it from realtime events and persists it, and hands
// readers immutable snapshots.
package state

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"

	"github.com/02loveslollipop/canal-flow-monitor/services/api/civilday"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/feed"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/metrics"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/network"
	"github.com/02loveslollipop/canal-flow-monitor/services/api/retry"
)

// ErrClosed is returned by operations on a closed service.
var ErrClosed = errors.New("state service closed")

// Fetcher reads the raw network from the database.
type Fetcher interface {
	FetchNetwork(ctx context.Context) ([]network.ModuleRow, error)
	FetchDailyReports(ctx context.Context, date string) ([]network.DailyReport, error)
}

// Cache persists the last built tree.
type Cache interface {
	Save(modules []network.Module) error
	Load() ([]network.Module, bool)
}

// View is one immutable state of the service. Modules must not be modified.
type View struct {
	Modules   []network.Module
	Loading   bool
	Error     string
	Version   uint64
	UpdatedAt time.Time
	FromCache bool
}

// Ready reports whether any tree, cached or fetched, is available.
func (v View) Ready() bool {
	return v.Modules != nil
}

// Options configures a Service.
type Options struct {
	Fetcher  Fetcher
	Cache    Cache // optional
	Calendar *civilday.Calendar
	Retry    retry.Config
	// Timeout bounds one refresh including its retries. Zero means no bound.
	Timeout time.Duration
	Logger  *zap.Logger
}

// Service implements feed.Handler.
type Service struct {
	fetcher  Fetcher
	cache    Cache
	calendar *civilday.Calendar
	retry    retry.Config
	timeout  time.Duration
	logger   *zap.Logger
	now      func() time.Time

	view atomic.Pointer[View]

	// mu serializes every swap of view. Readers never take it.
	mu       sync.Mutex
	applied  uint64
	inflight int
	closed   bool
	// replay holds measurements patched while a refresh was in flight. They
	// are folded into the refresh result before it is swapped in.
	replay []network.Measurement
	// bgRunning and bgPending coalesce RefreshAsync calls.
	bgRunning bool
	bgPending bool

	seq     atomic.Uint64
	nextSub atomic.Uint64
	subs    *xsync.Map[uint64, chan View]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ feed.Handler = (*Service)(nil)

func New(opts Options) (*Service, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Calendar == nil {
		return nil, errors.New("calendar is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		fetcher:  opts.Fetcher,
		cache:    opts.Cache,
		calendar: opts.Calendar,
		retry:    opts.Retry,
		timeout:  opts.Timeout,
		logger:   logger.Named("state"),
		now:      time.Now,
		subs:     xsync.NewMap[uint64, chan View](),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.view.Store(&View{})
	return s, nil
}

// Snapshot returns the current view without blocking.
func (s *Service) Snapshot() View {
	return *s.view.Load()
}

// Start paints the cached tree, if any, and then runs an authoritative
// refresh. A failed refresh is reported but leaves the service usable.
func (s *Service) Start(ctx context.Context) error {
	if s.cache != nil {
		if modules, ok := s.cache.Load(); ok {
			metrics.CacheOpsTotal.WithLabelValues("load", "hit").Inc()
			s.mu.Lock()
			cur := s.view.Load()
			if cur.Modules == nil {
				s.swapLocked(View{
					Modules:   modules,
					Loading:   cur.Loading,
					Error:     cur.Error,
					FromCache: true,
				})
				s.logger.Info("restored cached network", zap.Int("modules", len(modules)))
			}
			s.mu.Unlock()
		} else {
			metrics.CacheOpsTotal.WithLabelValues("load", "miss").Inc()
		}
	}
	return s.Refresh(ctx)
}

// Refresh rebuilds the tree from the database. If a newer refresh has
// already been applied when this one finishes, its result is discarded.
// On failure the previous tree is kept and the error is recorded in the view.
func (s *Service) Refresh(ctx context.Context) error {
	seq := s.seq.Add(1)
	start := s.now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.inflight++
	if cur := s.view.Load(); !cur.Loading {
		next := *cur
		next.Loading = true
		s.swapLocked(next)
	}
	s.mu.Unlock()

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	var modules []network.Module
	err := retry.WithBackoff(ctx, s.retry, s.logger, "refresh network", func(ctx context.Context) error {
		built, err := s.build(ctx)
		if err != nil {
			return err
		}
		modules = built
		return nil
	})
	metrics.RefreshDuration.Observe(s.now().Sub(start).Seconds())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	cur := s.view.Load()
	patched := s.replay
	if s.inflight == 0 {
		s.replay = nil
	}

	if seq < s.applied {
		metrics.RefreshTotal.WithLabelValues("superseded").Inc()
		s.logger.Debug("discarding superseded refresh", zap.Uint64("seq", seq), zap.Uint64("applied", s.applied))
		if s.inflight == 0 && cur.Loading {
			next := *cur
			next.Loading = false
			s.swapLocked(next)
		}
		return nil
	}

	if err != nil {
		metrics.RefreshTotal.WithLabelValues("error").Inc()
		s.logger.Error("network refresh failed", zap.Uint64("seq", seq), zap.Error(err))
		next := *cur
		next.Loading = s.inflight > 0
		next.Error = err.Error()
		s.swapLocked(next)
		return err
	}

	// Patches already in the fetched rows are stale against them and drop out.
	replayed := 0
	for _, m := range patched {
		var res network.PatchResult
		modules, res = network.ApplyMeasurement(modules, m)
		if res.Applied {
			replayed++
		}
	}

	s.applied = seq
	metrics.RefreshTotal.WithLabelValues("ok").Inc()
	s.swapLocked(View{
		Modules: modules,
		Loading: s.inflight > 0,
	})
	s.persistLocked(modules)
	s.logger.Info("network refreshed",
		zap.Uint64("seq", seq),
		zap.Int("modules", len(modules)),
		zap.Int("replayed", replayed),
		zap.Duration("took", s.now().Sub(start)))
	return nil
}

func (s *Service) build(ctx context.Context) ([]network.Module, error) {
	date := s.calendar.Today()

	rows, err := s.fetcher.FetchNetwork(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch network: %w", err)
	}
	reports, err := s.fetcher.FetchDailyReports(ctx, date)
	if err != nil {
		return nil, fmt.Errorf("fetch daily reports for %s: %w", date, err)
	}
	modules, err := network.Build(rows, reports, date)
	if err != nil {
		return nil, fmt.Errorf("build network: %w", err)
	}
	return modules, nil
}

// OnMeasurementInserted patches the affected point in place of a rebuild.
// An event without a timestamp is stamped with the receipt time so the live
// overlay does not interpolate the new flow from the previous sample.
func (s *Service) OnMeasurementInserted(ev feed.MeasurementInserted) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}

	m := ev.Measurement()
	if m.Timestamp.IsZero() {
		m.Timestamp = s.calendar.Now().UTC()
	}
	if s.inflight > 0 {
		s.replay = append(s.replay, m)
	}

	cur := s.view.Load()
	if cur.Modules == nil {
		metrics.EventsTotal.WithLabelValues("measurement", "no_tree").Inc()
		s.logger.Debug("measurement before first build", zap.String("point_id", ev.PointID), zap.Bool("buffered", s.inflight > 0))
		return
	}

	next, res := network.ApplyMeasurement(cur.Modules, m)
	switch {
	case res.Stale:
		metrics.EventsTotal.WithLabelValues("measurement", "stale").Inc()
		s.logger.Debug("dropping stale measurement",
			zap.String("point_id", ev.PointID),
			zap.Time("ts", ev.Timestamp))
		return
	case !res.Applied:
		metrics.EventsTotal.WithLabelValues("measurement", "unmatched").Inc()
		s.logger.Debug("measurement for unknown point", zap.String("point_id", ev.PointID))
		return
	}

	metrics.EventsTotal.WithLabelValues("measurement", "applied").Inc()
	view := *cur
	view.Modules = next
	s.swapLocked(view)
	s.persistLocked(next)
}

// OnLevelReadingInserted schedules a full rebuild; level readings change
// data the patcher cannot derive.
func (s *Service) OnLevelReadingInserted(ev feed.LevelReadingInserted) {
	metrics.EventsTotal.WithLabelValues("level_reading", "rebuild").Inc()
	s.RefreshAsync("level reading " + ev.DamID)
}

// RefreshAsync starts a refresh in the background. Calls made while a
// background refresh runs collapse into one follow-up refresh. It is a no-op
// once the service is closed.
func (s *Service) RefreshAsync(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.bgRunning {
		s.bgPending = true
		s.mu.Unlock()
		metrics.RefreshTotal.WithLabelValues("coalesced").Inc()
		s.logger.Debug("background refresh coalesced", zap.String("reason", reason))
		return
	}
	s.bgRunning = true
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		for {
			if err := s.Refresh(s.ctx); err != nil && !errors.Is(err, ErrClosed) && s.ctx.Err() == nil {
				s.logger.Warn("background refresh failed", zap.String("reason", reason), zap.Error(err))
			}

			s.mu.Lock()
			if !s.bgPending || s.closed {
				s.bgRunning = false
				s.bgPending = false
				s.mu.Unlock()
				return
			}
			s.bgPending = false
			reason = "coalesced"
			s.mu.Unlock()
		}
	}()
}

// Subscribe returns a channel that receives the newest view after every
// swap. Slow readers only miss intermediate views. Call Unsubscribe with
// the returned id to release it.
func (s *Service) Subscribe() (uint64, <-chan View) {
	id := s.nextSub.Add(1)
	ch := make(chan View, 1)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		close(ch)
		return id, ch
	}
	s.subs.Store(id, ch)
	return id, ch
}

// Unsubscribe closes the channel registered under id.
func (s *Service) Unsubscribe(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ch, ok := s.subs.LoadAndDelete(id); ok {
		close(ch)
	}
}

// Close stops background refreshes and closes all subscriptions.
func (s *Service) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs.Range(func(id uint64, ch chan View) bool {
		s.subs.Delete(id)
		close(ch)
		return true
	})
}

// swapLocked publishes v as the next version. Callers hold mu.
func (s *Service) swapLocked(v View) {
	v.Version = s.view.Load().Version + 1
	v.UpdatedAt = s.now()
	s.view.Store(&v)

	s.subs.Range(func(_ uint64, ch chan View) bool {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- v:
		default:
		}
		return true
	})
}

// persistLocked writes modules to the cache. Callers hold mu so saves land
// in swap order.
func (s *Service) persistLocked(modules []network.Module) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Save(modules); err != nil {
		metrics.CacheOpsTotal.WithLabelValues("save", "error").Inc()
		s.logger.Warn("failed to persist network snapshot", zap.Error(err))
		return
	}
	metrics.CacheOpsTotal.WithLabelValues("save", "ok").Inc()
}
