package worker

import (
	"sync"

	"github.com/josva12/Mpesa-PaySTK/internal/metrics"
)

type task func()

// Pool runs fire-and-forget work (payment event writes) off the
// request path. Submit blocks when the queue is full rather than
// dropping work.
type Pool struct {
	wg   sync.WaitGroup
	jobs chan task
}

func NewPool(n int) *Pool {
	p := &Pool{jobs: make(chan task, 1024)}
	for i := 0; i < n; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
				metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
			}
		}()
	}
	return p
}

func (p *Pool) Submit(f task) {
	p.jobs <- f
	metrics.WorkerQueueDepth.Set(float64(len(p.jobs)))
}

// Stop drains the queue and waits for in-flight work.
func (p *Pool) Stop() {
	close(p.jobs)
	p.wg.Wait()
}
