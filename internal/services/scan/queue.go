package scan

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/TheMichaelB/vaultcheck/internal/problems"
)

// contentQueue feeds files to content verification workers. Submitting blocks
// while the queue is full.
type contentQueue struct {
	jobs chan string
	g    errgroup.Group
}

func (s *Scanner) startContentWorkers(ctx context.Context, sink *problems.Sink) *contentQueue {
	q := &contentQueue{jobs: make(chan string, s.queueDepth)}

	for i := 0; i < s.workers; i++ {
		q.g.Go(func() error {
			for path := range q.jobs {
				if err := ctx.Err(); err != nil {
					return err
				}
				s.verifyContent(path, sink)
			}
			return nil
		})
	}

	return q
}

func (q *contentQueue) submit(ctx context.Context, path string) error {
	select {
	case q.jobs <- path:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting files and waits for the workers to drain the queue.
func (q *contentQueue) close() error {
	close(q.jobs)
	return q.g.Wait()
}
