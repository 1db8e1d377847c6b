package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/rl1809/coop-exchange/internal/adapter/storage"
	"github.com/rl1809/coop-exchange/internal/core/domain"
	"github.com/rl1809/coop-exchange/internal/core/service"
	"github.com/rl1809/coop-exchange/internal/port"
)

const (
	redisAddr     = "localhost:6379"
	productID     = "stress-acetone"
	initialStock  = 20
	perMember     = 2
	totalRequests = 50
)

func main() {
	ctx := context.Background()

	var cache port.CacheRepository
	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("redis unavailable (%v), using in-process stock gate", err)
		cache = storage.NewMemoryCache(nil)
	} else {
		defer rdb.Close()
		cache = storage.NewRedisAdapter(rdb)
	}

	admin := domain.Actor{ID: "market-maker", Role: domain.RoleAdmin}
	mp := service.NewMarketplace(service.Deps{
		Repo:          storage.NewMemoryStore(),
		Cache:         cache,
		MarketMakerID: admin.ID,
	})

	if _, err := mp.Inventory.UpsertProduct(ctx, admin, service.UpsertProductInput{ID: productID, Unit: "l"}); err != nil {
		log.Fatalf("failed to create product: %v", err)
	}
	limit := decimal.NewFromInt(perMember)
	deal, err := mp.FlashDeals.Create(ctx, admin, service.CreateFlashDealInput{
		ProductID:      productID,
		StartsAt:       time.Now().Add(-time.Minute),
		EndsAt:         time.Now().Add(time.Hour),
		SpecialPrice:   decimal.NewFromInt(3),
		StockLimit:     decimal.NewFromInt(initialStock),
		PerMemberLimit: &limit,
	})
	if err != nil {
		log.Fatalf("failed to create flash deal: %v", err)
	}

	var (
		successCount  atomic.Int32
		soldOutCount  atomic.Int32
		limitCount    atomic.Int32
		conflictCount atomic.Int32
		otherCount    atomic.Int32
	)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every member sends three requests, so some hit the per-member cap
			member := fmt.Sprintf("member-%d", i/3)
			_, err := mp.FlashDeals.Claim(ctx, member, deal.ID, decimal.NewFromInt(1), domain.DeliveryPickup)
			switch {
			case err == nil:
				successCount.Add(1)
			case domain.KindOf(err) == domain.KindConflict:
				conflictCount.Add(1)
			case errors.Is(err, domain.ErrPoolExhausted):
				soldOutCount.Add(1)
			case errors.Is(err, domain.ErrMemberLimitExceeded):
				limitCount.Add(1)
			default:
				otherCount.Add(1)
				log.Printf("claim failed: %v", err)
			}
		}(i)
	}
	wg.Wait()
	elapsed := time.Since(start)

	claimed, err := mp.FlashDeals.ListAll(ctx)
	if err != nil {
		log.Fatalf("failed to list deals: %v", err)
	}
	remaining := claimed[0].RemainingStock

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Per-Member Limit: %d\n", perMember)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", successCount.Load())
	fmt.Printf("Sold Out:         %d\n", soldOutCount.Load())
	fmt.Printf("Member Limit:     %d\n", limitCount.Load())
	fmt.Printf("Conflicts:        %d\n", conflictCount.Load())
	fmt.Printf("Other Errors:     %d\n", otherCount.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if successCount.Load() == initialStock {
		fmt.Printf("PASS: Exactly %d claims succeeded\n", initialStock)
	} else {
		fmt.Printf("FAIL: Expected %d claims, got %d\n", initialStock, successCount.Load())
	}
	if remaining.IsZero() {
		fmt.Println("PASS: Stock depleted to 0")
	} else {
		fmt.Printf("FAIL: Expected stock 0, got %s\n", remaining)
	}
}
