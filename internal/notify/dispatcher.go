package notify

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"agora/api/internal/log"
	"agora/api/internal/store"
)

const (
	DefaultQueueSize = 1024
	DefaultWorkers   = 4
)

var droppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
	Name: "forum_notifications_dropped_total",
	Help: "Notifications dropped because the dispatch queue was full or closed",
})

func init() {
	prometheus.MustRegister(droppedTotal)
}

// Sink hands a stored notification to a delivery transport.
type Sink interface {
	Deliver(ctx context.Context, n store.Notification) error
}

// Dispatcher persists and forwards notifications on a fixed worker pool.
// Enqueue never blocks: when the queue is full the notification is dropped and counted.
type Dispatcher struct {
	repo  store.NotificationRepository
	sinks []Sink
	queue chan store.Notification
	wg    conc.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(repo store.NotificationRepository, size, workers int, sinks ...Sink) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if workers <= 0 {
		workers = DefaultWorkers
	}
	d := &Dispatcher{
		repo:  repo,
		sinks: sinks,
		queue: make(chan store.Notification, size),
	}
	for i := 0; i < workers; i++ {
		d.wg.Go(d.work)
	}
	return d
}

func (d *Dispatcher) Enqueue(n store.Notification) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		droppedTotal.Inc()
		return false
	}
	select {
	case d.queue <- n:
		return true
	default:
		droppedTotal.Inc()
		log.L.Warn("notification queue full, dropping", zap.String("type", n.Type), zap.String("recipient", n.RecipientID))
		return false
	}
}

func (d *Dispatcher) work() {
	ctx := context.Background()
	for n := range d.queue {
		if err := d.repo.CreateNotification(ctx, &n); err != nil {
			log.L.Error("store notification", zap.String("type", n.Type), zap.Error(err))
			continue
		}
		for _, sink := range d.sinks {
			if err := sink.Deliver(ctx, n); err != nil {
				log.L.Warn("deliver notification", zap.String("id", n.ID), zap.Error(err))
			}
		}
	}
}

// Close stops accepting work and waits for queued notifications to drain.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	d.wg.Wait()
}
