// Command coupon-import bulk-loads coupon codes from gzip files into one
// organization, applying a shared rule template to every code.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/omnily-coupons/internal/domain/coupon"
	"github.com/xenking/omnily-coupons/internal/storage/postgres"
)

type importConfig struct {
	databaseURL string
	dataDir     string
	orgID       string
	batchSize   int
	dryRun      bool
	template    coupon.CreateParams
}

func main() {
	var (
		cfg         importConfig
		couponType  string
		value       string
		minPurchase string
		maxDiscount string
		usageLimit  int
		perCustomer int
		validFrom   string
		validUntil  string
	)

	flag.StringVar(&cfg.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.dataDir, "data-dir", "data", "directory containing *.gz files with one code per line")
	flag.StringVar(&cfg.orgID, "org-id", "", "organization receiving the coupons")
	flag.IntVar(&cfg.batchSize, "batch-size", 1000, "coupons inserted per database round trip")
	flag.BoolVar(&cfg.dryRun, "dry-run", false, "report what would be imported without writing")

	flag.StringVar(&couponType, "type", string(coupon.TypePercentage), "discount type of the imported coupons")
	flag.StringVar(&value, "value", "10", "discount value (percent or amount)")
	flag.StringVar(&minPurchase, "min-purchase", "", "minimum purchase amount")
	flag.StringVar(&maxDiscount, "max-discount", "", "discount cap")
	flag.IntVar(&usageLimit, "usage-limit", 0, "total redemptions per code (0 = unlimited)")
	flag.IntVar(&perCustomer, "per-customer", 0, "redemptions per customer (0 = unlimited)")
	flag.StringVar(&validFrom, "valid-from", "", "RFC 3339 start of validity (default now)")
	flag.StringVar(&validUntil, "valid-until", "", "RFC 3339 end of validity (default 30 days after start)")
	flag.StringVar(&cfg.template.Title, "title", "Imported promo code", "title shown to customers")
	flag.StringVar(&cfg.template.Description, "description", "", "description shown to customers")
	flag.BoolVar(&cfg.template.FirstPurchaseOnly, "first-purchase-only", false, "restrict to first purchases")
	flag.StringVar(&cfg.template.CustomerTierRequired, "tier", "", "required customer tier")
	flag.Parse()

	if cfg.databaseURL == "" {
		cfg.databaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.databaseURL == "" && !cfg.dryRun {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if cfg.orgID == "" {
		slog.Error("organization is required: set --org-id")
		os.Exit(1)
	}

	tmpl, err := buildTemplate(cfg.template, templateFlags{
		couponType:  couponType,
		value:       value,
		minPurchase: minPurchase,
		maxDiscount: maxDiscount,
		usageLimit:  usageLimit,
		perCustomer: perCustomer,
		validFrom:   validFrom,
		validUntil:  validUntil,
	}, time.Now().UTC())
	if err != nil {
		slog.Error("invalid coupon template", slog.String("error", err.Error()))
		os.Exit(1)
	}
	cfg.template = tmpl

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("coupon import failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("coupon import completed successfully")
}

type templateFlags struct {
	couponType  string
	value       string
	minPurchase string
	maxDiscount string
	usageLimit  int
	perCustomer int
	validFrom   string
	validUntil  string
}

// buildTemplate turns the rule flags into creation params shared by every
// imported code. The template is validated with a placeholder code.
func buildTemplate(base coupon.CreateParams, f templateFlags, now time.Time) (coupon.CreateParams, error) {
	p := base
	p.Type = coupon.Type(f.couponType)

	v, err := decimal.NewFromString(f.value)
	if err != nil {
		return p, errors.Wrap(err, "parse value")
	}
	p.Value = v

	for _, m := range []struct {
		raw string
		dst *decimal.NullDecimal
	}{
		{f.minPurchase, &p.MinPurchaseAmount},
		{f.maxDiscount, &p.MaxDiscountAmount},
	} {
		if m.raw == "" {
			continue
		}
		d, err := decimal.NewFromString(m.raw)
		if err != nil {
			return p, errors.Wrapf(err, "parse amount %q", m.raw)
		}
		*m.dst = decimal.NewNullDecimal(d)
	}
	if f.usageLimit > 0 {
		p.UsageLimit = &f.usageLimit
	}
	if f.perCustomer > 0 {
		p.UsagePerCustomer = &f.perCustomer
	}

	p.ValidFrom = now
	if f.validFrom != "" {
		if p.ValidFrom, err = time.Parse(time.RFC3339, f.validFrom); err != nil {
			return p, errors.Wrap(err, "parse valid-from")
		}
	}
	p.ValidUntil = p.ValidFrom.AddDate(0, 0, 30)
	if f.validUntil != "" {
		if p.ValidUntil, err = time.Parse(time.RFC3339, f.validUntil); err != nil {
			return p, errors.Wrap(err, "parse valid-until")
		}
	}

	probe := p
	probe.Code = "TEMPLATE"
	if err := probe.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func run(ctx context.Context, cfg importConfig) error {
	files, err := filepath.Glob(filepath.Join(cfg.dataDir, "*.gz"))
	if err != nil {
		return errors.Wrap(err, "list input files")
	}
	if len(files) == 0 {
		return errors.Errorf("no *.gz files in %s", cfg.dataDir)
	}

	slog.Info("reading codes", slog.Int("files", len(files)))

	codes, err := readAllCodes(ctx, files)
	if err != nil {
		return errors.Wrap(err, "read codes")
	}

	slog.Info("unique codes read", slog.Int("count", len(codes)))

	if cfg.dryRun {
		slog.Info("dry run, nothing written", slog.Int("would_import", len(codes)))
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, cfg.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	repo := postgres.NewCouponRepository(pool)
	imp := &importer{
		store:     repo,
		orgID:     cfg.orgID,
		template:  cfg.template,
		batchSize: cfg.batchSize,
		now:       time.Now,
	}
	stats, err := imp.Import(ctx, codes)
	if err != nil {
		return err
	}

	slog.Info("import summary",
		slog.Int("read", len(codes)),
		slog.Int("skipped_existing", stats.existing),
		slog.Int64("inserted", stats.inserted),
	)
	return nil
}
