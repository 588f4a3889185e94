package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
)

type queueEntry struct {
	ID                   string `json:"id"`
	ShopID               string `json:"shop_id"`
	CustomerID           string `json:"customer_id"`
	Position             int    `json:"position"`
	Status               string `json:"status"`
	EstimatedWaitMinutes int    `json:"estimated_wait_minutes"`
}

var (
	apiURL       = flag.String("api", "http://localhost:8080", "queuesync HTTP API base URL")
	shopID       = flag.String("shop", "", "Shop ID (required)")
	numCustomers = flag.Int("customers", 12, "Number of customers to enqueue")
	joinRate     = flag.Duration("join-rate", 200*time.Millisecond, "Time between customer joins")
	simulate     = flag.Bool("simulate", false, "Enable continuous simulation of the shop working the queue")
	serviceTime  = flag.Duration("service-time", 8*time.Second, "Simulated time per service")
	cancelRate   = flag.Float64("cancel-rate", 0.15, "Probability a waiting customer cancels per service cycle")
)

func main() {
	flag.Parse()

	if *shopID == "" {
		fmt.Println("Error: --shop flag is required")
		flag.Usage()
		os.Exit(1)
	}

	if err := ping(); err != nil {
		fmt.Printf("Failed to reach queuesync API: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Connected to queuesync at %s\n", *apiURL)

	customerIDs := joinCustomers(*shopID, *numCustomers)

	entries, err := fetchQueue(*shopID)
	if err != nil {
		fmt.Printf("Failed to read queue: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\n✅ %d customers joined shop %s\n", len(customerIDs), *shopID)
	printQueue(entries)

	if *simulate {
		fmt.Printf("\n🎬 Starting shop simulation...\n")
		fmt.Printf("   Service time: %v per customer\n", *serviceTime)
		fmt.Printf("   Cancel rate: %.0f%% per cycle\n", *cancelRate*100)
		fmt.Printf("   Press Ctrl+C to stop\n\n")
		runSimulation(*shopID)
	} else {
		fmt.Println("\n💡 Tip: Use --simulate to have the shop work through the queue")
	}
}

func ping() error {
	resp, err := http.Get(*apiURL + "/health")
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func joinCustomers(shopID string, n int) []string {
	fmt.Printf("\n🚀 Enqueueing %d customers...\n", n)
	ids := make([]string, 0, n)

	for i := 0; i < n; i++ {
		customerID := fmt.Sprintf("demo-customer-%s", uuid.New().String()[:8])
		body, _ := json.Marshal(map[string]string{
			"shop_id":     shopID,
			"customer_id": customerID,
			"booking_id":  fmt.Sprintf("demo-booking-%d", i+1),
		})

		resp, err := http.Post(*apiURL+"/queue-entries", "application/json", bytes.NewReader(body))
		if err != nil {
			fmt.Printf("  join failed for %s: %v\n", customerID, err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode == http.StatusAccepted {
			fmt.Printf("  %s deferred (offline)\n", customerID)
		}
		ids = append(ids, customerID)
		time.Sleep(*joinRate)
	}
	return ids
}

func runSimulation(shopID string) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(*serviceTime)
	defer ticker.Stop()

	for {
		select {
		case <-quit:
			fmt.Println("\n👋 Simulation stopped")
			return
		case <-ticker.C:
			entries, err := fetchQueue(shopID)
			if err != nil {
				fmt.Printf("  queue read failed: %v\n", err)
				continue
			}
			if len(entries) == 0 {
				fmt.Println("🏁 Queue empty")
				continue
			}

			// Finish whoever is in the chair, then call the next customer.
			for _, e := range entries {
				if e.Status == "in_service" {
					entryAction(e, "complete")
				}
			}
			for _, e := range entries {
				if e.Status != "waiting" {
					continue
				}
				if rand.Float64() < *cancelRate {
					entryAction(e, "cancel")
					continue
				}
				entryAction(e, "start")
				break
			}

			if entries, err = fetchQueue(shopID); err == nil {
				printQueue(entries)
			}
		}
	}
}

func entryAction(e queueEntry, action string) {
	body, _ := json.Marshal(map[string]string{
		"shop_id":     e.ShopID,
		"customer_id": e.CustomerID,
	})
	resp, err := http.Post(
		fmt.Sprintf("%s/queue-entries/%s/%s", *apiURL, e.ID, action),
		"application/json",
		bytes.NewReader(body),
	)
	if err != nil {
		fmt.Printf("  %s failed for %s: %v\n", action, e.CustomerID, err)
		return
	}
	resp.Body.Close()
	fmt.Printf("  ▶ %s %s (position %d)\n", action, e.CustomerID, e.Position)
}

func fetchQueue(shopID string) ([]queueEntry, error) {
	resp, err := http.Get(fmt.Sprintf("%s/shops/%s/queue", *apiURL, shopID))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var body struct {
		Entries []queueEntry `json:"entries"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Entries, nil
}

func printQueue(entries []queueEntry) {
	fmt.Printf("📊 Queue (%d active):\n", len(entries))
	for _, e := range entries {
		fmt.Printf("   #%d %-28s %-11s ~%d min\n", e.Position, e.CustomerID, e.Status, e.EstimatedWaitMinutes)
	}
}
