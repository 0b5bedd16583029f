// Package verify recomputes content hashes of repository objects on a
// producer/worker-pool pipeline and reports every outcome.
package verify

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/kk-code-lab/kbkeeper/internal/storage/objectid"
)

// DefaultQueueSize bounds the number of pending items between the
// producer and the workers.
const DefaultQueueSize = 1024

const sha256Prefix = objectid.SHA256 + "-"

var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// Item is one file to check against the name it is expected to have.
type Item struct {
	Path string
	Name string
}

// Status classifies a Result.
type Status int

const (
	StatusOK Status = iota
	StatusMismatch
	StatusUnsupported
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusMismatch:
		return "mismatch"
	case StatusUnsupported:
		return "unsupported"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Result is the outcome for one Item. Expected and Actual hold the digest
// part of the name in upper-case hex.
type Result struct {
	Item
	Status   Status
	Expected string
	Actual   string
	Bytes    int64
	Err      error
}

// Summary counts results by status.
type Summary struct {
	Checked     int   `json:"checked"`
	OK          int   `json:"ok"`
	Mismatches  int   `json:"mismatches"`
	Unsupported int   `json:"unsupported"`
	Errors      int   `json:"errors"`
	Bytes       int64 `json:"bytes"`
}

func (s *Summary) add(r Result) {
	s.Checked++
	s.Bytes += r.Bytes
	switch r.Status {
	case StatusOK:
		s.OK++
	case StatusMismatch:
		s.Mismatches++
	case StatusUnsupported:
		s.Unsupported++
	default:
		s.Errors++
	}
}

// Options tunes the pipeline. Zero values pick the defaults.
type Options struct {
	// Workers is the number of concurrent hashers; 1 suits spinning disks.
	Workers   int
	QueueSize int
}

func (o Options) workers() int {
	if o.Workers <= 0 {
		return runtime.NumCPU()
	}
	return o.Workers
}

func (o Options) queueSize() int {
	if o.QueueSize <= 0 {
		return DefaultQueueSize
	}
	return o.QueueSize
}

// Source pushes items through emit. emit blocks while the queue is full
// and fails once the run is cancelled.
type Source func(ctx context.Context, emit func(Item) error) error

// Run checks every item src produces. Results reach sink from a single
// goroutine in completion order. A failing item never stops the run; a
// failing source, a failing sink or ctx cancellation does.
func Run(ctx context.Context, src Source, opts Options, sink func(Result) error) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	items := make(chan Item, opts.queueSize())
	results := make(chan Result, opts.workers())

	g.Go(func() error {
		defer close(items)
		return src(gctx, func(it Item) error {
			select {
			case items <- it:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	})

	var workers sync.WaitGroup
	for range opts.workers() {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			for it := range items {
				if err := gctx.Err(); err != nil {
					return err
				}
				select {
				case results <- Check(it):
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	var (
		summary Summary
		sinkErr error
	)
	for r := range results {
		summary.add(r)
		logResult(r)
		if sinkErr != nil || sink == nil {
			continue
		}
		if sinkErr = sink(r); sinkErr != nil {
			cancel()
		}
	}
	err := g.Wait()
	if sinkErr != nil {
		return summary, sinkErr
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return summary, context.Cause(ctx)
		}
		return summary, err
	}
	return summary, nil
}

// Check hashes one item.
func Check(it Item) Result {
	r := Result{Item: it}
	expected, ok := strings.CutPrefix(it.Name, sha256Prefix)
	if !ok {
		r.Status = StatusUnsupported
		r.Err = fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, it.Name)
		return r
	}
	r.Expected = expected
	actual, n, err := HashFile(it.Path)
	r.Bytes = n
	if err != nil {
		r.Status = StatusError
		r.Err = fmt.Errorf("error hashing file %s: %w", it.Name, err)
		return r
	}
	r.Actual = actual
	if actual != expected {
		r.Status = StatusMismatch
	}
	return r
}

func logResult(r Result) {
	switch r.Status {
	case StatusOK:
		log.Debug().Str("file", r.Name).Msg("checksum OK")
	case StatusMismatch:
		log.Debug().Str("file", r.Name).Str("expected", r.Expected).Str("actual", r.Actual).Msg("checksum mismatch")
	default:
		log.Error().Err(r.Err).Str("file", r.Name).Msg("verify failed")
	}
}
