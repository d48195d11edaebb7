package lakescan

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"golang.org/x/sync/errgroup"

	"github.com/polarsignals/lakescan/recovery"
)

// FileScan pairs one file's decoder with its scan configuration. Partition
// values usually differ per file, so each entry carries its own PlanOptions.
type FileScan struct {
	Decoder ColumnDecoder
	Plan    PlanOptions
	Options []Option
}

// ScanFiles scans every file with up to concurrency scanners at once and
// calls emit for each produced batch. Batches of one file arrive in file
// order; batches of different files interleave, and emit may be called
// concurrently. The record is released after emit returns; emit must Retain
// it to keep it.
//
// The first error cancels every remaining scan. Per-file statistics are
// returned indexed like files, complete for files that finished.
func ScanFiles(ctx context.Context, files []FileScan, concurrency int, emit func(file int, rec arrow.Record, rows int64) error) ([]Stats, error) {
	stats := make([]Stats, len(files))
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, file := range files {
		g.Go(recovery.Do(func() error {
			s, err := NewScanner(file.Decoder, file.Plan, file.Options...)
			if err != nil {
				return err
			}
			defer s.Close()
			for {
				rec, rows, done, err := s.NextBatch(ctx)
				if err != nil {
					return err
				}
				if done {
					stats[i] = s.Stats()
					return ctx.Err()
				}
				err = emit(i, rec, rows)
				rec.Release()
				if err != nil {
					return err
				}
			}
		}))
	}
	err := g.Wait()
	return stats, err
}
