package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"github.com/sourcegraph/conc/pool"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rl1809/storefront/internal/adapter/handler"
	"github.com/rl1809/storefront/internal/core/domain"
)

type settings struct {
	BaseURL     string `env:"STRESS_BASE_URL" envDefault:"http://localhost:8080"`
	GRPCAddr    string `env:"STRESS_GRPC_ADDR" envDefault:"localhost:9090"`
	ProductID   string `env:"STRESS_PRODUCT_ID"`
	VariantID   string `env:"STRESS_VARIANT_ID"`
	Requests    int    `env:"STRESS_REQUESTS" envDefault:"50"`
	Concurrency int    `env:"STRESS_CONCURRENCY" envDefault:"50"`
	FirstUserID int64  `env:"STRESS_FIRST_USER_ID" envDefault:"900000000"`
	KeepCarts   bool   `env:"STRESS_KEEP_CARTS"`
}

func main() {
	var cfg settings
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("failed to parse settings: %v", err)
	}
	ctx := context.Background()

	// Pick the target variant from the public catalog over gRPC
	conn, err := grpc.NewClient(cfg.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatalf("failed to connect grpc: %v", err)
	}
	defer conn.Close()

	productID, variantID, stock, err := pickVariant(ctx, handler.NewCatalogClient(conn), cfg.ProductID, cfg.VariantID)
	if err != nil {
		log.Fatalf("failed to pick variant: %v", err)
	}
	log.Printf("target %s/%s, catalog stock %d", productID, variantID, stock)

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(10 * time.Second).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	// Counters
	var successCount, soldOutCount, failCount atomic.Int32

	p := pool.New().WithMaxGoroutines(cfg.Concurrency)
	start := time.Now()

	for i := 0; i < cfg.Requests; i++ {
		userID := cfg.FirstUserID + int64(i)
		p.Go(func() {
			resp, err := client.R().
				SetContext(ctx).
				SetHeader("X-User-Id", strconv.FormatInt(userID, 10)).
				SetBody(map[string]any{"product_id": productID, "variant_id": variantID, "quantity": 1}).
				Post("/api/cart/items")
			switch {
			case err != nil:
				failCount.Add(1)
			case resp.StatusCode() == http.StatusOK:
				successCount.Add(1)
			case resp.StatusCode() == http.StatusBadRequest:
				soldOutCount.Add(1)
			default:
				failCount.Add(1)
			}
		})
	}
	p.Wait()
	elapsed := time.Since(start)

	// Results
	success := int(successCount.Load())
	soldOut := int(soldOutCount.Load())

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Catalog Stock:    %d\n", stock)
	fmt.Printf("Total Requests:   %d\n", cfg.Requests)
	fmt.Printf("Reserved:         %d\n", success)
	fmt.Printf("Sold Out:         %d\n", soldOut)
	fmt.Printf("Errors:           %d\n", failCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	// The public catalog may be cached, so its stock is an upper bound
	if success <= stock {
		fmt.Printf("PASS: %d reservations within stock %d\n", success, stock)
	} else {
		fmt.Printf("FAIL: %d reservations exceed stock %d\n", success, stock)
	}

	if cfg.KeepCarts {
		return
	}

	// Clear the carts so the reservations go back to stock
	cleanup := pool.New().WithMaxGoroutines(cfg.Concurrency)
	for i := 0; i < cfg.Requests; i++ {
		userID := cfg.FirstUserID + int64(i)
		cleanup.Go(func() {
			_, err := client.R().
				SetContext(ctx).
				SetHeader("X-User-Id", strconv.FormatInt(userID, 10)).
				Delete("/api/cart")
			if err != nil {
				log.Printf("clear cart for user %d: %v", userID, err)
			}
		})
	}
	cleanup.Wait()
	fmt.Println("carts cleared")
}

func pickVariant(ctx context.Context, client *handler.CatalogClient, productID, variantID string) (string, string, int, error) {
	resp, err := client.GetCatalog(ctx, &handler.CatalogRequest{})
	if err != nil {
		return "", "", 0, err
	}
	var catalog domain.Catalog
	if err := json.Unmarshal(resp.Catalog, &catalog); err != nil {
		return "", "", 0, fmt.Errorf("decode catalog: %w", err)
	}

	for _, p := range catalog.Products {
		if productID != "" && p.ID != productID {
			continue
		}
		for _, v := range p.Variants {
			if variantID != "" && v.ID != variantID {
				continue
			}
			if variantID == "" && v.Quantity <= 0 {
				continue
			}
			return p.ID, v.ID, v.Quantity, nil
		}
	}
	return "", "", 0, fmt.Errorf("no matching variant with stock in catalog")
}
