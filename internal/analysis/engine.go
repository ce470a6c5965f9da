package analysis

import (
	"context"
	"log/slog"
	"runtime"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dshills/filingcheck/internal/catalog"
	"github.com/dshills/filingcheck/internal/schema"
)

// Job is one document to analyze. Parse is called on a worker goroutine.
type Job struct {
	Name  string
	Parse func(ctx context.Context) (*schema.Document, error)
}

// Observer receives every completed record. Calls come from the single
// aggregation goroutine.
type Observer interface {
	Observe(schema.DocumentAnalysis)
}

// Engine analyzes batches of documents on a bounded worker pool. Completed
// records flow to one aggregation goroutine, the only writer of the session.
type Engine struct {
	Catalog  *catalog.Catalog
	Workers  int // <= 0 means GOMAXPROCS
	Logger   *slog.Logger
	Observer Observer
	// Progress, if set, receives the session snapshot after each rollup.
	Progress func(schema.SessionAnalysis)
}

type completed struct {
	index  int
	record schema.DocumentAnalysis
}

// Run analyzes jobs and rolls their records into session. A job whose Parse
// fails is recorded with Failed and does not stop the batch. Cancelling ctx
// stops scheduling new jobs; Run then returns the records completed so far
// along with the context error. New records appear in job order.
func (e *Engine) Run(ctx context.Context, session schema.SessionAnalysis, jobs []Job) (schema.SessionAnalysis, error) {
	log := e.Logger
	if log == nil {
		log = slog.Default()
	}
	workers := e.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	results := make(chan completed, workers)
	done := make(chan struct{})
	base := len(session.Documents)
	var order []int

	go func() {
		defer close(done)
		for c := range results {
			session = Rollup(session, c.record)
			order = append(order, c.index)
			if e.Observer != nil {
				e.Observer.Observe(c.record)
			}
			if e.Progress != nil {
				e.Progress(session)
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, job := range jobs {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rec := e.analyze(gctx, log, job)
			select {
			case results <- completed{index: i, record: rec}:
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}
	err := g.Wait()
	close(results)
	<-done

	docs := append([]schema.DocumentAnalysis(nil), session.Documents...)
	reorder(docs[base:], order)
	session.Documents = docs
	if err == nil {
		err = ctx.Err()
	}
	return session, err
}

func (e *Engine) analyze(ctx context.Context, log *slog.Logger, job Job) schema.DocumentAnalysis {
	start := time.Now()
	doc, err := job.Parse(ctx)
	if err != nil {
		log.Warn("document failed", "file", job.Name, "error", err)
		return Failed(job.Name, err)
	}
	rec := AnalyzeDocument(e.Catalog, doc)
	log.Debug("document analyzed",
		"file", job.Name,
		"type", rec.Document.Type,
		"score", rec.Report.OverallScore,
		"red_flags", len(rec.Report.RedFlags),
		"elapsed", time.Since(start))
	return rec
}

// reorder sorts docs into job order; order[i] is the job index of docs[i].
func reorder(docs []schema.DocumentAnalysis, order []int) {
	sort.Sort(byJob{docs: docs, idx: order})
}

type byJob struct {
	docs []schema.DocumentAnalysis
	idx  []int
}

func (b byJob) Len() int           { return len(b.docs) }
func (b byJob) Less(i, j int) bool { return b.idx[i] < b.idx[j] }
func (b byJob) Swap(i, j int) {
	b.docs[i], b.docs[j] = b.docs[j], b.docs[i]
	b.idx[i], b.idx[j] = b.idx[j], b.idx[i]
}
