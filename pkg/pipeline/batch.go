package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"

	"github.com/jingkaihe/skillsmith/pkg/logger"
)

// ErrNoMatches is returned for a glob pattern that matches no files.
var ErrNoMatches = errors.New("pattern matched no files")

// ExpandPaths resolves the given paths and doublestar patterns ("docs/**/*.txt")
// into a sorted, de-duplicated file list. Plain paths are kept as given.
func ExpandPaths(patterns []string) ([]string, error) {
	seen := map[string]bool{}
	var (
		out  []string
		errs *multierror.Error
	)
	for _, pattern := range patterns {
		matches := []string{pattern}
		if hasMeta(pattern) {
			if !doublestar.ValidatePathPattern(pattern) {
				errs = multierror.Append(errs, errors.Errorf("invalid pattern %q", pattern))
				continue
			}
			var err error
			matches, err = doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
			if err != nil {
				errs = multierror.Append(errs, errors.Wrapf(err, "failed to expand %q", pattern))
				continue
			}
			if len(matches) == 0 {
				errs = multierror.Append(errs, errors.Wrap(ErrNoMatches, pattern))
				continue
			}
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				out = append(out, m)
			}
		}
	}
	sort.Strings(out)
	return out, errs.ErrorOrNil()
}

func hasMeta(pattern string) bool {
	for _, c := range pattern {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

// BatchResult pairs each ingested path with its outcome.
type BatchResult struct {
	Path   string
	Result Result
	Err    error
}

// IngestBatch ingests every path on a worker pool of Config.Parallelism
// workers. Each path is ingested with a copy of template. Results keep the
// order of paths; failures are also aggregated into the returned error.
// A progress callback set with WithProgress is called from several workers.
func (p *Pipeline) IngestBatch(ctx context.Context, paths []string, template Request) ([]BatchResult, error) {
	size := p.config.Parallelism
	if size <= 0 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create worker pool")
	}
	defer pool.Release()

	results := make([]BatchResult, len(paths))
	var wg sync.WaitGroup
	for i, path := range paths {
		results[i].Path = path
		req := template
		req.Path = path
		req.Data = nil
		req.Name = ""

		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				results[i].Err = ctx.Err()
				return
			}
			results[i].Result, results[i].Err = p.Ingest(ctx, req)
		}); err != nil {
			wg.Done()
			results[i].Err = errors.Wrap(err, "failed to schedule ingestion")
		}
	}
	wg.Wait()

	var errs *multierror.Error
	for _, r := range results {
		if r.Err != nil {
			errs = multierror.Append(errs, errors.Wrap(r.Err, r.Path))
			logger.G(ctx).WithError(r.Err).WithField("path", r.Path).Warn("ingestion failed")
		}
	}
	return results, errs.ErrorOrNil()
}
