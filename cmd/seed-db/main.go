// Command seed-db runs migrations and seeds the catalog, demo coupons, and
// an API key for local development and integration tests.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/oakmarket/checkout/internal/domain/auth"
	"github.com/oakmarket/checkout/internal/repository"
)

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Weight   decimal.Decimal `json:"weight"`
	Category string          `json:"category"`
}

type couponSeed struct {
	code         string
	discountType string
	value        string
	minOrder     string
	maxDiscount  string
	usageLimit   int
	description  string
}

var demoCoupons = []couponSeed{
	{code: "WELCOME10", discountType: "PERCENT", value: "10", description: "10% off your first order"},
	{code: "SAVE50", discountType: "FLAT", value: "50", minOrder: "500", description: "Flat 50 off orders over 500"},
	{code: "BIGSPENDER", discountType: "PERCENT", value: "20", minOrder: "2000", maxDiscount: "500", description: "20% off big orders, capped at 500"},
	{code: "LASTCHANCE", discountType: "PERCENT", value: "15", usageLimit: 100, description: "15% off, first 100 redemptions"},
}

func main() {
	var (
		databaseURL  string
		productsFile string
		apiKey       string
		apiKeyPepper string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&productsFile, "products-file", "db/seed/products.json", "path to products JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or SHOP_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or SHOP_API_KEY_PEPPER env)")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}
	if apiKey == "" {
		apiKey = os.Getenv("SHOP_SEED_API_KEY")
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or SHOP_SEED_API_KEY")
		os.Exit(1)
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("SHOP_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, productsFile, apiKey, apiKeyPepper); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, productsFile, apiKey, pepper string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := seedProducts(ctx, pool, productsFile); err != nil {
		return errors.Wrap(err, "seed products")
	}
	if err := seedCoupons(ctx, pool); err != nil {
		return errors.Wrap(err, "seed coupons")
	}
	if err := seedAPIKey(ctx, pool, apiKey, pepper); err != nil {
		return errors.Wrap(err, "seed api key")
	}
	return nil
}

func seedProducts(ctx context.Context, pool *pgxpool.Pool, productsFile string) error {
	slog.Info("reading products file", slog.String("path", productsFile))

	data, err := os.ReadFile(productsFile)
	if err != nil {
		return errors.Wrap(err, "read products file")
	}

	var products []productJSON
	if err := json.Unmarshal(data, &products); err != nil {
		return errors.Wrap(err, "parse products JSON")
	}

	for _, p := range products {
		_, err := pool.Exec(ctx,
			`INSERT INTO products (id, name, price, weight, category)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, price = EXCLUDED.price,
				weight = EXCLUDED.weight, category = EXCLUDED.category`,
			p.ID, p.Name, p.Price, p.Weight, p.Category)
		if err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}

	slog.Info("products seeded", slog.Int("count", len(products)))
	return nil
}

func seedCoupons(ctx context.Context, pool *pgxpool.Pool) error {
	for _, c := range demoCoupons {
		var usageLimit *int
		if c.usageLimit > 0 {
			usageLimit = &c.usageLimit
		}
		_, err := pool.Exec(ctx,
			`INSERT INTO coupons (code, discount_type, value, min_order, max_discount, usage_limit, description)
			VALUES ($1, $2, $3, NULLIF($4, '')::numeric, NULLIF($5, '')::numeric, $6, $7)
			ON CONFLICT (code) DO NOTHING`,
			c.code, c.discountType, c.value, c.minOrder, c.maxDiscount, usageLimit, c.description)
		if err != nil {
			return errors.Wrapf(err, "upsert coupon %s", c.code)
		}
	}

	slog.Info("coupons seeded", slog.Int("count", len(demoCoupons)))
	return nil
}

func seedAPIKey(ctx context.Context, pool *pgxpool.Pool, apiKey, pepper string) error {
	hash := auth.HashKey([]byte(pepper), apiKey)

	_, err := pool.Exec(ctx,
		`INSERT INTO api_keys (id, key_hash, user_id, name)
		VALUES ($1, $2, $3, 'seeded key')
		ON CONFLICT (key_hash) DO NOTHING`,
		uuid.New().String(), hash, uuid.New().String())
	if err != nil {
		return errors.Wrap(err, "insert api key")
	}

	slog.Info("api key seeded")
	return nil
}
