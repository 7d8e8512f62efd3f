package splitter

import (
	"fmt"

	"github.com/iqrfgd2/daemon/internal/logger"
	"github.com/iqrfgd2/daemon/internal/metrics"
)

// BoundedSender wraps a transport-specific deliver function with a bounded
// queue: Send enqueues non-blockingly and fails with a synthetic
// error_MessageQueueFull response fed back through fallback when the
// queue is at capacity (spec.md §4.5 backpressure).
type BoundedSender struct {
	queueType string
	deliver   func(Response) error
	queue     chan Response
	fallback  Sender
	metrics   *metrics.Metrics
}

// SetMetrics attaches m for queue-depth observations. Nil is a valid
// no-op value (the zero value left by NewBoundedSender).
func (bs *BoundedSender) SetMetrics(m *metrics.Metrics) {
	bs.metrics = m
}

// NewBoundedSender creates a BoundedSender of the given capacity. deliver
// performs the actual transport write for one queued Response; fallback
// (may be nil) receives the synthetic queue-full response when enqueue
// fails — typically the same transport's direct, unbounded error path.
func NewBoundedSender(queueType string, capacity int, deliver func(Response) error, fallback Sender) *BoundedSender {
	bs := &BoundedSender{
		queueType: queueType,
		deliver:   deliver,
		queue:     make(chan Response, capacity),
		fallback:  fallback,
	}
	go bs.drain()
	return bs
}

// Send enqueues resp without blocking. If the queue is full, a synthetic
// error_MessageQueueFull response is sent to the originator via fallback
// when possible; otherwise it is only logged.
func (bs *BoundedSender) Send(resp Response) error {
	select {
	case bs.queue <- resp:
		bs.metrics.SetQueueDepth(bs.queueType, len(bs.queue))
		return nil
	default:
		full := QueueFullResponse(resp.Data.MsgID, bs.queueType, len(bs.queue))
		if bs.fallback != nil {
			if err := bs.fallback.Send(full); err != nil {
				logger.Warn("splitter: queue-full notice itself failed to send",
					logger.QueueType(bs.queueType), logger.Err(err))
			}
			return fmt.Errorf("splitter: %s queue full", bs.queueType)
		}
		logger.Warn("splitter: queue full, response dropped",
			logger.QueueType(bs.queueType), logger.MsgID(resp.Data.MsgID))
		return fmt.Errorf("splitter: %s queue full", bs.queueType)
	}
}

// Close stops accepting new sends. In-flight queued items continue to
// drain.
func (bs *BoundedSender) Close() { close(bs.queue) }

func (bs *BoundedSender) drain() {
	for resp := range bs.queue {
		if err := bs.deliver(resp); err != nil {
			logger.Warn("splitter: transport delivery failed", logger.Err(err))
		}
		bs.metrics.SetQueueDepth(bs.queueType, len(bs.queue))
	}
}
