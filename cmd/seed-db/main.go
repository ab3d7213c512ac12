package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/omnily-coupons/internal/domain/auth"
	"github.com/xenking/omnily-coupons/internal/domain/coupon"
	"github.com/xenking/omnily-coupons/internal/storage/postgres"
)

type seedConfig struct {
	databaseURL string
	orgID       string
	orgName     string
	apiKey      string
	pepper      string
}

func main() {
	var cfg seedConfig

	flag.StringVar(&cfg.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&cfg.orgID, "org-id", "demo", "organization to seed")
	flag.StringVar(&cfg.orgName, "org-name", "Demo Store", "display name of the organization")
	flag.StringVar(&cfg.apiKey, "api-key", "", "API key to seed (or OMNILY_SEED_API_KEY env)")
	flag.StringVar(&cfg.pepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or OMNILY_API_KEY_PEPPER env)")
	flag.Parse()

	if cfg.databaseURL == "" {
		cfg.databaseURL = os.Getenv("DATABASE_URL")
	}
	if cfg.databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if cfg.apiKey == "" {
		cfg.apiKey = os.Getenv("OMNILY_SEED_API_KEY")
	}
	if cfg.apiKey == "" {
		slog.Error("API key is required: set --api-key or OMNILY_SEED_API_KEY")
		os.Exit(1)
	}
	if cfg.pepper == "" {
		cfg.pepper = os.Getenv("OMNILY_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, cfg); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, cfg seedConfig) error {
	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, cfg.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	keys := postgres.NewAPIKeyRepository(pool)
	if err := keys.EnsureOrganization(ctx, cfg.orgID, cfg.orgName); err != nil {
		return errors.Wrap(err, "seed organization")
	}
	slog.Info("upserted organization", slog.String("id", cfg.orgID), slog.String("name", cfg.orgName))

	if err := seedAPIKey(ctx, keys, cfg); err != nil {
		return errors.Wrap(err, "seed api key")
	}

	txs := postgres.NewTransactionRepository(pool)
	svc, err := coupon.NewService(
		postgres.NewCouponRepository(pool),
		postgres.NewUsageRepository(pool),
		txs,
		coupon.Config{},
	)
	if err != nil {
		return errors.Wrap(err, "create coupon service")
	}

	if err := seedCoupons(ctx, svc, cfg.orgID, time.Now().UTC()); err != nil {
		return errors.Wrap(err, "seed coupons")
	}

	return nil
}

func seedAPIKey(ctx context.Context, keys *postgres.APIKeyRepository, cfg seedConfig) error {
	slog.Info("seeding default API key")

	info := &auth.APIKeyInfo{
		ID:             cfg.orgID + "-default",
		OrganizationID: cfg.orgID,
		KeyHash:        auth.HashKey([]byte(cfg.pepper), cfg.apiKey),
		Name:           "Default key",
		Scopes:         auth.AllScopes,
	}
	if err := keys.Save(ctx, info); err != nil {
		return errors.Wrap(err, "upsert default API key")
	}

	slog.Info("upserted API key", slog.String("id", info.ID), slog.Any("scopes", info.Scopes))

	return nil
}

func intPtr(n int) *int { return &n }

func money(v int64) decimal.NullDecimal {
	return decimal.NewNullDecimal(decimal.NewFromInt(v))
}

// demoCoupons returns one coupon per rule family, valid for a quarter
// starting yesterday.
func demoCoupons(now time.Time) []coupon.CreateParams {
	from := now.Add(-24 * time.Hour)
	until := now.AddDate(0, 3, 0)

	return []coupon.CreateParams{
		{
			Code:              "SUMMER10",
			Type:              coupon.TypePercentage,
			Value:             decimal.NewFromInt(10),
			Title:             "Summer sale",
			Description:       "10% off orders over 50, up to 20 off",
			ValidFrom:         from,
			ValidUntil:        until,
			MinPurchaseAmount: money(50),
			MaxDiscountAmount: money(20),
			UsageLimit:        intPtr(100),
		},
		{
			Code:              "WELCOME5",
			Type:              coupon.TypeFixedAmount,
			Value:             decimal.NewFromInt(5),
			Title:             "Welcome gift",
			Description:       "5 off your first purchase",
			ValidFrom:         from,
			ValidUntil:        until,
			UsagePerCustomer:  intPtr(1),
			FirstPurchaseOnly: true,
		},
		{
			Code:             "FLASH25",
			Type:             coupon.TypePercentage,
			Value:            decimal.NewFromInt(25),
			DurationType:     "flash",
			Title:            "Flash deal",
			Description:      "25% off for the next 48 hours",
			ValidFrom:        from,
			ValidUntil:       now.Add(48 * time.Hour),
			UsageLimit:       intPtr(50),
			UsagePerCustomer: intPtr(1),
			BackgroundColor:  "#ff3b30",
			TextColor:        "#ffffff",
			IsFlash:          true,
		},
		{
			Code:                 "GOLDSHIP",
			Type:                 coupon.TypeFreeShipping,
			Value:                decimal.NewFromInt(1),
			Title:                "Free shipping for gold members",
			ValidFrom:            from,
			ValidUntil:           until,
			CustomerTierRequired: "gold",
		},
	}
}

func seedCoupons(ctx context.Context, svc *coupon.Service, orgID string, now time.Time) error {
	slog.Info("seeding demo coupons")

	for _, p := range demoCoupons(now) {
		c, err := svc.Create(ctx, orgID, "seed-db", p)
		switch {
		case errors.Is(err, coupon.ErrCodeExists):
			slog.Info("coupon already exists", slog.String("code", p.Code))
			continue
		case err != nil:
			return errors.Wrapf(err, "create coupon %s", p.Code)
		}

		slog.Info("created coupon", slog.String("code", c.Code), slog.String("title", c.Title))
	}

	return nil
}
