package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Tutortoise/yolo-overlay-service/detections"
	"github.com/Tutortoise/yolo-overlay-service/metrics"
)

const (
	// DefaultPoolSize Pool configuration
	DefaultPoolSize   = 4
	AcquireTimeout    = 5 * time.Second
	HealthCheckPeriod = 60 * time.Second
)

var ErrPoolClosed = errors.New("pool is closed")

// sessionFactory opens one model session; the pool calls it at startup and
// whenever it replaces a discarded session.
type sessionFactory func() (*detections.ModelSession, error)

type ModelSessionPool struct {
	sessions   chan *detections.ModelSession
	size       int
	factory    sessionFactory
	logger     *zap.SugaredLogger
	mu         sync.Mutex
	closed     bool
	done       chan struct{}
	replenish  chan struct{}
	metrics    *PoolMetrics
	lastErrors []error
}

type PoolMetrics struct {
	mu              sync.RWMutex
	inUse           int
	discarded       int
	totalAcquired   int64
	totalReleased   int64
	acquireFailures int64
	waitTime        time.Duration
}

// PoolStats is a point-in-time copy of PoolMetrics.
type PoolStats struct {
	Size            int           `json:"pool_size"`
	Idle            int           `json:"sessions_idle"`
	InUse           int           `json:"sessions_in_use"`
	TotalAcquired   int64         `json:"total_acquired"`
	TotalReleased   int64         `json:"total_released"`
	AcquireFailures int64         `json:"acquire_failures"`
	WaitTime        time.Duration `json:"wait_time"`
}

func NewModelSessionPool(factory sessionFactory, size int, logger *zap.SugaredLogger) (*ModelSessionPool, error) {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	pool := &ModelSessionPool{
		sessions:  make(chan *detections.ModelSession, size),
		size:      size,
		factory:   factory,
		logger:    logger,
		done:      make(chan struct{}),
		replenish: make(chan struct{}, 1),
		metrics:   &PoolMetrics{},
	}

	// Initialize sessions
	for i := 0; i < size; i++ {
		session, err := factory()
		if err != nil {
			pool.Destroy()
			return nil, fmt.Errorf("failed to initialize session %d: %w", i, err)
		}
		pool.sessions <- session
	}

	go pool.healthCheck(HealthCheckPeriod)

	return pool, nil
}

func (p *ModelSessionPool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *ModelSessionPool) Acquire(ctx context.Context) (*detections.ModelSession, error) {
	if p.isClosed() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	defer func() {
		p.metrics.mu.Lock()
		p.metrics.waitTime += time.Since(start)
		p.metrics.mu.Unlock()
	}()

	timer := time.NewTimer(AcquireTimeout)
	defer timer.Stop()

	select {
	case session, ok := <-p.sessions:
		if !ok {
			return nil, ErrPoolClosed
		}
		p.metrics.mu.Lock()
		p.metrics.inUse++
		p.metrics.totalAcquired++
		p.metrics.mu.Unlock()
		return session, nil
	case <-timer.C:
		p.metrics.mu.Lock()
		p.metrics.acquireFailures++
		p.metrics.mu.Unlock()
		return nil, fmt.Errorf("timeout waiting for available session")
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *ModelSessionPool) Release(session *detections.ModelSession) {
	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		session.Destroy()
		return
	}
	p.sessions <- session
}

// Discard destroys a session whose last run failed instead of returning it
// to the pool, and wakes the health check to open a replacement.
func (p *ModelSessionPool) Discard(session *detections.ModelSession) {
	session.Destroy()

	p.metrics.mu.Lock()
	p.metrics.inUse--
	p.metrics.totalReleased++
	p.metrics.discarded++
	p.metrics.mu.Unlock()

	select {
	case p.replenish <- struct{}{}:
	default:
	}
}

func (p *ModelSessionPool) Destroy() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	close(p.done)
	close(p.sessions)

	// Destroy all sessions
	for session := range p.sessions {
		session.Destroy()
	}
}

func (p *ModelSessionPool) healthCheck(period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-p.done:
			return
		case <-ticker.C:
			p.replenishSessions()
		case <-p.replenish:
			p.replenishSessions()
		}
	}
}

// replenishSessions reopens as many sessions as have been discarded.
func (p *ModelSessionPool) replenishSessions() {
	p.metrics.mu.Lock()
	missing := p.metrics.discarded
	p.metrics.mu.Unlock()

	for i := 0; i < missing; i++ {
		session, err := p.factory()
		if err != nil {
			p.recordError(err)
			p.logger.Warnw("failed to replace model session", "error", err)
			continue
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			session.Destroy()
			return
		}
		p.sessions <- session
		p.mu.Unlock()

		p.metrics.mu.Lock()
		p.metrics.discarded--
		p.metrics.mu.Unlock()
	}
}

func (p *ModelSessionPool) recordError(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastErrors = append(p.lastErrors, err)
	if len(p.lastErrors) > 10 {
		p.lastErrors = p.lastErrors[1:]
	}
}

func (p *ModelSessionPool) GetMetrics() PoolStats {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return PoolStats{
		Size:            p.size,
		Idle:            len(p.sessions),
		InUse:           p.metrics.inUse,
		TotalAcquired:   p.metrics.totalAcquired,
		TotalReleased:   p.metrics.totalReleased,
		AcquireFailures: p.metrics.acquireFailures,
		WaitTime:        p.metrics.waitTime,
	}
}

// registerMetrics exposes the pool counters as Prometheus gauges.
func (p *ModelSessionPool) registerMetrics(m *metrics.Metrics) {
	m.RegisterGaugeFunc("pool_size", "Configured model session pool size", func() float64 {
		return float64(p.size)
	})
	m.RegisterGaugeFunc("pool_sessions_in_use", "Model sessions currently acquired", func() float64 {
		return float64(p.GetMetrics().InUse)
	})
	m.RegisterGaugeFunc("pool_acquired_total", "Model sessions acquired since start", func() float64 {
		return float64(p.GetMetrics().TotalAcquired)
	})
	m.RegisterGaugeFunc("pool_acquire_failures_total", "Timed out session acquisitions", func() float64 {
		return float64(p.GetMetrics().AcquireFailures)
	})
}
