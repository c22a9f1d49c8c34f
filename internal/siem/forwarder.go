package siem

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"pagespace/internal/retry"
)

// Config tunes batching and retries.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
	Concurrency   int
	Policy        retry.Policy
}

// DefaultConfig is used for zero fields.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		FlushInterval: 5 * time.Second,
		QueueSize:     10000,
		Concurrency:   8,
		Policy:        retry.DefaultPolicy(),
	}
}

// Stats is a snapshot of forwarder counters.
type Stats struct {
	Queued    int    `json:"queued"`
	Delivered uint64 `json:"delivered"`
	Failed    uint64 `json:"failed"`
	Dropped   uint64 `json:"dropped"`
}

type cachedSender struct {
	fingerprint string
	sender      Sender
}

// Forwarder queues events in memory and delivers them in batches to every
// enabled destination of the event's tenant.
type Forwarder struct {
	cfg       Config
	source    DestinationSource
	logger    *zap.Logger
	newSender func(Destination) (Sender, error)

	mu    sync.Mutex
	queue []Event

	sendersMu sync.Mutex
	senders   map[string]cachedSender

	delivered atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewForwarder builds a forwarder; call Start to begin delivering.
func NewForwarder(cfg Config, source DestinationSource, logger *zap.Logger) *Forwarder {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Policy.Validate() != nil {
		cfg.Policy = def.Policy
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{
		cfg:       cfg,
		source:    source,
		logger:    logger.Named("siem"),
		newSender: NewSender,
		senders:   make(map[string]cachedSender),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Publish enqueues an event without blocking. When the queue is full the
// oldest event is discarded.
func (f *Forwarder) Publish(evt Event) {
	f.mu.Lock()
	if len(f.queue) >= f.cfg.QueueSize {
		f.queue = f.queue[1:]
		f.dropped.Add(1)
	}
	f.queue = append(f.queue, evt)
	full := len(f.queue) >= f.cfg.BatchSize
	f.mu.Unlock()

	if full {
		select {
		case f.wake <- struct{}{}:
		default:
		}
	}
}

// Start launches the delivery loop.
func (f *Forwarder) Start() {
	f.startOnce.Do(func() {
		go f.loop()
	})
}

func (f *Forwarder) loop() {
	defer close(f.done)
	ticker := time.NewTicker(f.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
		case <-f.wake:
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		f.Flush(ctx)
		cancel()
	}
}

// Close stops the loop, flushes what is left within ctx and closes senders.
func (f *Forwarder) Close(ctx context.Context) error {
	f.stopOnce.Do(func() {
		close(f.stop)
	})
	started := true
	f.startOnce.Do(func() { started = false })
	if started {
		select {
		case <-f.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.Flush(ctx)

	f.sendersMu.Lock()
	defer f.sendersMu.Unlock()
	for id, cached := range f.senders {
		_ = cached.sender.Close()
		delete(f.senders, id)
	}
	return ctx.Err()
}

// Stats returns the current counters.
func (f *Forwarder) Stats() Stats {
	f.mu.Lock()
	queued := len(f.queue)
	f.mu.Unlock()
	return Stats{
		Queued:    queued,
		Delivered: f.delivered.Load(),
		Failed:    f.failed.Load(),
		Dropped:   f.dropped.Load(),
	}
}

func (f *Forwarder) take() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.queue)
	if n == 0 {
		return nil
	}
	if n > f.cfg.BatchSize {
		n = f.cfg.BatchSize
	}
	batch := make([]Event, n)
	copy(batch, f.queue[:n])
	f.queue = f.queue[n:]
	return batch
}

// Flush drains the queue batch by batch until it is empty or ctx ends.
func (f *Forwarder) Flush(ctx context.Context) {
	for ctx.Err() == nil {
		batch := f.take()
		if len(batch) == 0 {
			return
		}
		f.deliver(ctx, batch)
	}
}

func (f *Forwarder) deliver(ctx context.Context, batch []Event) {
	destinations, err := f.source.EnabledDestinations(ctx)
	if err != nil {
		f.logger.Error("load destinations", zap.Error(err), zap.Int("events", len(batch)))
		f.failed.Add(uint64(len(batch)))
		return
	}

	byTenant := make(map[string][]Event)
	for _, evt := range batch {
		byTenant[evt.TenantID] = append(byTenant[evt.TenantID], evt)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.cfg.Concurrency)
	for _, dest := range destinations {
		events := byTenant[dest.TenantID]
		if !dest.Enabled || len(events) == 0 {
			continue
		}
		g.Go(func() error {
			err := f.sendWithRetry(gctx, dest, events)
			if err != nil {
				f.failed.Add(uint64(len(events)))
				f.logger.Warn("delivery failed, batch dropped",
					zap.String("destination", dest.ID),
					zap.String("kind", dest.Kind),
					zap.Int("events", len(events)),
					zap.Error(err),
				)
				return nil
			}
			f.delivered.Add(uint64(len(events)))
			return nil
		})
	}
	_ = g.Wait()
}

func (f *Forwarder) sendWithRetry(ctx context.Context, dest Destination, events []Event) error {
	sender, err := f.senderFor(dest)
	if err != nil {
		return err
	}
	attempt := 0
	return retry.Do(ctx, f.cfg.Policy, func(ctx context.Context) error {
		attempt++
		err := sender.Send(ctx, events)
		if err != nil && !retry.IsPermanent(err) {
			f.logger.Debug("delivery attempt failed",
				zap.String("destination", dest.ID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	})
}

func (f *Forwarder) senderFor(dest Destination) (Sender, error) {
	f.sendersMu.Lock()
	defer f.sendersMu.Unlock()

	fp := dest.fingerprint()
	if cached, ok := f.senders[dest.ID]; ok {
		if cached.fingerprint == fp {
			return cached.sender, nil
		}
		_ = cached.sender.Close()
		delete(f.senders, dest.ID)
	}
	sender, err := f.newSender(dest)
	if err != nil {
		return nil, fmt.Errorf("build sender for %s: %w", dest.ID, err)
	}
	f.senders[dest.ID] = cachedSender{fingerprint: fp, sender: sender}
	return sender, nil
}

// Test sends one synthetic event to dest synchronously, without retries,
// on a throwaway sender.
func (f *Forwarder) Test(ctx context.Context, dest Destination, actor string) error {
	if dest.ID == "" {
		return errors.New("siem: destination id required")
	}
	sender, err := f.newSender(dest)
	if err != nil {
		return err
	}
	defer sender.Close()

	evt := NewEvent(dest.TenantID, actor, "siem.test", "siem_destination", dest.ID, OutcomeSuccess)
	evt.Metadata = map[string]string{"destination": dest.Name}
	return sender.Send(ctx, []Event{evt})
}
