package main

import (
	"bufio"
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	pgzip "github.com/klauspost/pgzip"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
)

const (
	bloomFPR      = 0.001
	minBloomSize  = 1024
	maxCodeLen    = 50
	progressEvery = 1_000_000
)

// streamGzFile opens a gzip-compressed file and calls fn for each line.
func streamGzFile(ctx context.Context, path string, fn func(line string)) error {
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
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fn(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		return errors.Wrapf(err, "scan %s", path)
	}

	return nil
}

// readAllCodes streams every file concurrently and returns the normalized,
// de-duplicated codes in first-seen order per file.
func readAllCodes(ctx context.Context, files []string) ([]string, error) {
	perFile := make([][]string, len(files))

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			var (
				codes   []string
				skipped int
			)
			if err := streamGzFile(ctx, path, func(line string) {
				code := coupon.NormalizeCode(line)
				if code == "" || len(code) > maxCodeLen {
					skipped++
					return
				}
				codes = append(codes, code)
				if len(codes)%progressEvery == 0 {
					slog.Info("read progress", slog.String("file", path), slog.Int("codes", len(codes)))
				}
			}); err != nil {
				return err
			}
			slog.Info("file read",
				slog.String("file", path),
				slog.Int("codes", len(codes)),
				slog.Int("skipped", skipped),
			)
			perFile[i] = codes
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var out []string
	for _, codes := range perFile {
		for _, c := range codes {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out, nil
}

type codeStore interface {
	ListCodes(ctx context.Context, orgID string) ([]string, error)
	ExistingCodes(ctx context.Context, orgID string, codes []string) (map[string]struct{}, error)
	CreateBatch(ctx context.Context, cs []*coupon.Coupon) (int64, error)
}

type importStats struct {
	existing int
	inserted int64
}

type importer struct {
	store     codeStore
	orgID     string
	template  coupon.CreateParams
	batchSize int
	now       func() time.Time
}

// Import inserts the codes not yet used by the organization. Existing codes
// are loaded into a bloom filter; only its positives are confirmed against
// the database.
func (im *importer) Import(ctx context.Context, codes []string) (importStats, error) {
	var stats importStats

	known, err := im.store.ListCodes(ctx, im.orgID)
	if err != nil {
		return stats, err
	}
	filter := bloom.NewWithEstimates(uint(max(len(known), minBloomSize)), bloomFPR)
	for _, c := range known {
		filter.AddString(c)
	}
	slog.Info("existing codes loaded", slog.Int("count", len(known)))

	batchSize := max(im.batchSize, 1)
	pending := make([]string, 0, batchSize)
	for i, code := range codes {
		pending = append(pending, code)
		if len(pending) < batchSize && i < len(codes)-1 {
			continue
		}
		n, skipped, err := im.flush(ctx, filter, pending)
		if err != nil {
			return stats, err
		}
		stats.inserted += n
		stats.existing += skipped
		pending = pending[:0]

		slog.Info("import progress", slog.Int("processed", i+1), slog.Int("total", len(codes)))
	}
	return stats, nil
}

func (im *importer) flush(ctx context.Context, filter *bloom.BloomFilter, codes []string) (int64, int, error) {
	var suspects []string
	for _, c := range codes {
		if filter.TestString(c) {
			suspects = append(suspects, c)
		}
	}
	existing, err := im.store.ExistingCodes(ctx, im.orgID, suspects)
	if err != nil {
		return 0, 0, err
	}

	now := im.now().UTC()
	batch := make([]*coupon.Coupon, 0, len(codes)-len(existing))
	for _, code := range codes {
		if _, ok := existing[code]; ok {
			continue
		}
		p := im.template
		p.Code = code
		c := p.Coupon(im.orgID, "coupon-import")
		c.ID = uuid.NewString()
		c.CreatedAt = now
		c.UpdatedAt = now
		batch = append(batch, c)
	}

	n, err := im.store.CreateBatch(ctx, batch)
	if err != nil {
		return 0, 0, err
	}
	return n, len(existing), nil
}
