// Package importer bulk-loads coupon definitions from gzip-compressed JSON
// lines files.
//
// Codes must be unique across the marketplace, so a code defined in more
// than one file is imported only from the first file listing it. Duplicates
// are found in two concurrent passes: the first builds a bloom filter per
// file, the second tests every code against the other files' filters and
// records hits per file in a bitmask. Only bloom hits are kept in memory,
// which keeps large imports cheap.
package importer

import (
	"bufio"
	"context"
	"math/bits"
	"os"
	"sync/atomic"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/klauspost/pgzip"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/marketplace/internal/domain/coupon"
)

// Creator registers coupons. Implemented by coupon.Service.
type Creator interface {
	Create(ctx context.Context, in coupon.Input, sellerID string) (*coupon.Snapshot, error)
}

// Config tunes the importer.
type Config struct {
	// BloomCapacity is the expected number of codes per file.
	BloomCapacity uint `default:"1000000" usage:"expected number of codes per file"`
	// BloomFPR is the target false positive rate of each filter.
	BloomFPR float64 `default:"0.001" usage:"bloom filter false positive rate"`
	// Workers bounds concurrent Create calls.
	Workers int `default:"8" usage:"concurrent coupon writers"`
	// ProgressEvery logs progress every N lines. Zero disables it.
	ProgressEvery uint64 `default:"100000" usage:"log progress every N lines"`
}

// Report summarizes an import.
type Report struct {
	Lines      int64
	Created    int64
	Duplicates int64 // defined again in a later file
	Existing   int64 // already present in the store
	Invalid    int64 // malformed or rejected definitions
}

// Importer loads coupon definition files through a Creator.
type Importer struct {
	coupons Creator
	cfg     Config
}

func New(coupons Creator, cfg Config) *Importer {
	if cfg.BloomCapacity == 0 {
		cfg.BloomCapacity = 1_000_000
	}
	if cfg.BloomFPR <= 0 {
		cfg.BloomFPR = 0.001
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Importer{coupons: coupons, cfg: cfg}
}

// Run imports files in order. At most 64 files are supported per run.
func (im *Importer) Run(ctx context.Context, files []string) (*Report, error) {
	if len(files) == 0 {
		return &Report{}, nil
	}
	if len(files) > 64 {
		return nil, errors.Errorf("too many files: %d (max 64)", len(files))
	}
	lg := zctx.From(ctx)

	lg.Info("Pass 1: building bloom filters", zap.Int("files", len(files)))
	filters, err := im.buildFilters(ctx, files)
	if err != nil {
		return nil, errors.Wrap(err, "build bloom filters")
	}

	lg.Info("Pass 2: finding codes shared between files")
	owners, err := im.findShared(ctx, files, filters)
	if err != nil {
		return nil, errors.Wrap(err, "find shared codes")
	}
	lg.Info("Shared codes found", zap.Int("count", len(owners)))

	var rep Report
	for i, f := range files {
		if err := im.load(ctx, i, f, owners, &rep); err != nil {
			return &rep, errors.Wrapf(err, "load %s", f)
		}
	}
	return &rep, nil
}

func (im *Importer) buildFilters(ctx context.Context, files []string) ([]*bloom.BloomFilter, error) {
	filters := make([]*bloom.BloomFilter, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			filter := bloom.NewWithEstimates(im.cfg.BloomCapacity, im.cfg.BloomFPR)
			var count uint64
			err := streamGzFile(ctx, path, func(line []byte) error {
				if code, ok := codeOf(line); ok {
					filter.AddString(code)
					count++
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "build filter for file %d", i+1)
			}
			zctx.From(ctx).Info("Pass 1 complete", zap.Int("file", i+1), zap.Uint64("codes", count))
			filters[i] = filter
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return filters, nil
}

// findShared returns, for every code present in two or more files, the index
// of the first file that defines it.
func (im *Importer) findShared(ctx context.Context, files []string, filters []*bloom.BloomFilter) (map[string]int, error) {
	candidates := make([]map[string]uint64, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			found := make(map[string]uint64)
			bit := uint64(1) << uint(i)
			err := streamGzFile(ctx, path, func(line []byte) error {
				code, ok := codeOf(line)
				if !ok {
					return nil
				}
				for j, f := range filters {
					if j != i && f.TestString(code) {
						found[code] |= bit
						break
					}
				}
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %d", i+1)
			}
			candidates[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Bloom false positives set a single bit and drop out here.
	merged := make(map[string]uint64)
	for _, found := range candidates {
		for code, mask := range found {
			merged[code] |= mask
		}
	}
	owners := make(map[string]int)
	for code, mask := range merged {
		if bits.OnesCount64(mask) >= 2 {
			owners[code] = bits.TrailingZeros64(mask)
		}
	}
	return owners, nil
}

// load creates the coupons of one file with bounded concurrency.
func (im *Importer) load(ctx context.Context, idx int, path string, owners map[string]int, rep *Report) error {
	lg := zctx.From(ctx).With(zap.String("file", path))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(im.cfg.Workers)

	var lineNo uint64
	err := streamGzFile(gctx, path, func(line []byte) error {
		lineNo++
		atomic.AddInt64(&rep.Lines, 1)
		if im.cfg.ProgressEvery > 0 && lineNo%im.cfg.ProgressEvery == 0 {
			lg.Info("Import progress", zap.Uint64("lines", lineNo), zap.Int64("created", atomic.LoadInt64(&rep.Created)))
		}

		def, err := ParseLine(line)
		if err != nil {
			lg.Warn("Skipping invalid definition", zap.Uint64("line", lineNo), zap.Error(err))
			atomic.AddInt64(&rep.Invalid, 1)
			return nil
		}
		if owner, shared := owners[def.Input.Code]; shared && owner != idx {
			atomic.AddInt64(&rep.Duplicates, 1)
			return nil
		}

		// Line buffers are reused by the scanner; def owns its data.
		g.Go(func() error {
			_, err := im.coupons.Create(gctx, def.Input, def.SellerID)
			var (
				invalid  *coupon.InvalidInputError
				notFound *coupon.NotFoundError
			)
			switch {
			case err == nil:
				atomic.AddInt64(&rep.Created, 1)
			case errors.Is(err, coupon.ErrCodeConflict):
				atomic.AddInt64(&rep.Existing, 1)
			case errors.As(err, &invalid), errors.As(err, &notFound):
				lg.Warn("Coupon rejected", zap.String("code", def.Input.Code), zap.Error(err))
				atomic.AddInt64(&rep.Invalid, 1)
			default:
				return errors.Wrapf(err, "create coupon %q", def.Input.Code)
			}
			return nil
		})
		return nil
	})
	if werr := g.Wait(); werr != nil {
		return werr
	}
	return err
}

// streamGzFile opens a gzip-compressed file and calls fn for each non-empty
// line. The slice passed to fn is only valid during the call.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "open %s", path)
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "create gzip reader for %s", path)
	}
	defer func() { _ = gz.Close() }()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}
	return nil
}
