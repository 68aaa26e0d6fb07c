package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/shaiso/dagflow/internal/domain"
	"github.com/shaiso/dagflow/internal/telemetry"
)

const (
	defaultProbeInterval    = 15 * time.Second
	defaultProbeConcurrency = 8
)

// ProbeResult — итог проверки одного исполнителя.
type ProbeResult struct {
	ExecutorID string
	Healthy    bool
	Error      string
	Duration   time.Duration
}

// DiscoveryConfig — конфигурация Discovery.
type DiscoveryConfig struct {
	// Probers — проверка по типу коммуникации. Типы без prober'а пропускаются.
	Probers map[domain.CommunicationType]Prober

	// Interval — период проверки (default: 15s).
	Interval time.Duration

	// Concurrency — сколько проверок одновременно (default: 8).
	Concurrency int

	Logger *slog.Logger
}

// Discovery периодически проверяет исполнителей и вытесняет молчащих.
type Discovery struct {
	registry    *Registry
	probers     map[domain.CommunicationType]Prober
	interval    time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewDiscovery создаёт Discovery.
func NewDiscovery(r *Registry, cfg DiscoveryConfig) *Discovery {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = defaultProbeConcurrency
	}
	return &Discovery{
		registry:    r,
		probers:     cfg.Probers,
		interval:    interval,
		concurrency: concurrency,
		logger:      telemetry.OrDefault(cfg.Logger).With("component", "discovery"),
	}
}

// ProbeAll проверяет всех исполнителей с поддерживаемым транспортом.
//
// Успешная проверка обновляет heartbeat. Ошибки отдельных проверок
// отражаются в ProbeResult и не прерывают остальные.
func (d *Discovery) ProbeAll(ctx context.Context) []ProbeResult {
	executors := d.registry.List()

	var (
		mu      sync.Mutex
		results = make([]ProbeResult, 0, len(executors))
	)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(d.concurrency)

	for _, exec := range executors {
		prober, ok := d.probers[exec.CommunicationType]
		if !ok || exec.Endpoint == "" {
			continue
		}

		g.Go(func() error {
			start := time.Now()
			err := d.registry.resilience.Execute(gCtx, probeOperation(exec.ID), func(ctx context.Context) error {
				return prober.Probe(ctx, exec)
			})

			res := ProbeResult{ExecutorID: exec.ID, Healthy: err == nil, Duration: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
				d.logger.Debug("probe failed", "executor_id", exec.ID, "error", err)
			} else if hbErr := d.registry.Heartbeat(exec.ID); hbErr != nil {
				// Исполнителя сняли с регистрации во время проверки
				res.Healthy = false
				res.Error = hbErr.Error()
			}

			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return results
}

// Run запускает цикл проверок до отмены ctx.
func (d *Discovery) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("discovery started", "interval", d.interval)

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("discovery stopped")
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Discovery) tick(ctx context.Context) {
	results := d.ProbeAll(ctx)
	evicted := d.registry.Evict()
	d.registry.updateHealthMetric()

	unhealthy := 0
	for _, r := range results {
		if !r.Healthy {
			unhealthy++
		}
	}
	if unhealthy > 0 || evicted > 0 {
		d.logger.Info("discovery cycle",
			"probed", len(results),
			"unhealthy", unhealthy,
			"evicted", evicted,
		)
	}
}
