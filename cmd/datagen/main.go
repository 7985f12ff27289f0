// cmd/datagen/main.go
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/deannos/tariff-billing-engine/internal/model"
	"github.com/deannos/tariff-billing-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// GenConfig configures the load generator.
type GenConfig struct {
	TargetURL         string
	NumClients        int
	RequestsPerClient int
	BillsPerRequest   int
	RatePerSecond     int // approximate overall rate
	Year              int
}

type target struct {
	provider string
	category string
}

// Provider and category pairs present in the reference tariffs.
var targets = []target{
	{"SBPDCL", repository.CategoryRuralDomestic},
	{"SBPDCL", repository.CategoryUrbanDomestic},
	{"CESC", repository.CategoryDomestic},
}

// generateRandomRequest creates a randomized bill request against the reference tariffs.
func generateRandomRequest(year int) model.BillRequest {
	t := targets[rand.Intn(len(targets))]

	// Mostly household consumption with a long tail of heavy users.
	units := rand.ExpFloat64() * 120
	load := 0.5 + float64(rand.Intn(10))*0.5

	return model.BillRequest{
		ProviderCode:         t.provider,
		Category:             t.category,
		Year:                 year,
		Month:                rand.Intn(12) + 1,
		UnitsKWh:             decimal.NewFromFloat(units).Round(2),
		SanctionedLoadKVA:    decimal.NewFromFloat(load),
		TimelyPaymentOptIn:   rand.Intn(2) == 0,
		IsLifelineRegistered: rand.Intn(4) == 0,
	}
}

type batchItem struct {
	Index  int              `json:"index"`
	Result json.RawMessage  `json:"result,omitempty"`
	Error  *json.RawMessage `json:"error,omitempty"`
}

type outcome struct {
	msg    string
	ok     bool
	bills  int
	failed int
}

// clientWorker simulates a client sending batch requests.
func clientWorker(id int, cfg GenConfig, wg *sync.WaitGroup, results chan<- outcome) {
	defer wg.Done()

	client := &http.Client{Timeout: 30 * time.Second}

	for i := 0; i < cfg.RequestsPerClient; i++ {
		reqs := make([]model.BillRequest, 0, cfg.BillsPerRequest)
		for j := 0; j < cfg.BillsPerRequest; j++ {
			reqs = append(reqs, generateRandomRequest(cfg.Year))
		}
		results <- send(client, id, i+1, cfg.TargetURL, reqs)

		if cfg.RatePerSecond > 0 {
			time.Sleep(time.Duration(float64(time.Second) * float64(cfg.NumClients*cfg.BillsPerRequest) / float64(cfg.RatePerSecond)))
		}
	}
}

func send(client *http.Client, clientID, n int, url string, reqs []model.BillRequest) outcome {
	payload, err := json.Marshal(reqs)
	if err != nil {
		return outcome{msg: fmt.Sprintf("Client %d, Request %d: JSON marshal error: %v", clientID, n, err)}
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return outcome{msg: fmt.Sprintf("Client %d, Request %d: Error creating request: %v", clientID, n, err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return outcome{msg: fmt.Sprintf("Client %d, Request %d: HTTP request error: %v", clientID, n, err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return outcome{msg: fmt.Sprintf("Client %d, Request %d: Failed (%d) - Response: %s", clientID, n, resp.StatusCode, string(body))}
	}

	var items []batchItem
	if err := json.Unmarshal(body, &items); err != nil {
		return outcome{msg: fmt.Sprintf("Client %d, Request %d: Unreadable response: %v", clientID, n, err)}
	}
	failed := 0
	for _, item := range items {
		if item.Error != nil {
			failed++
		}
	}
	return outcome{
		msg:    fmt.Sprintf("Client %d, Request %d: Success (%d) - %d bills, %d rejected", clientID, n, resp.StatusCode, len(items), failed),
		ok:     true,
		bills:  len(items) - failed,
		failed: failed,
	}
}

func main() {
	var cfg GenConfig
	flag.StringVar(&cfg.TargetURL, "url", "http://localhost:8080/api/v1/bills/batch", "Target URL of the batch endpoint")
	flag.IntVar(&cfg.NumClients, "clients", 10, "Number of concurrent client goroutines")
	flag.IntVar(&cfg.RequestsPerClient, "requests", 100, "Number of requests per client")
	flag.IntVar(&cfg.BillsPerRequest, "batch", 100, "Number of bill requests per batch")
	flag.IntVar(&cfg.RatePerSecond, "rate", 0, "Target overall rate in bills/sec (approximate, 0 for no limit)")
	flag.IntVar(&cfg.Year, "year", 2024, "Billing year of generated requests")
	flag.Parse()

	fmt.Printf("Starting data generator with config:\n")
	fmt.Printf("  Target URL: %s\n", cfg.TargetURL)
	fmt.Printf("  Clients: %d\n", cfg.NumClients)
	fmt.Printf("  Requests/Client: %d\n", cfg.RequestsPerClient)
	fmt.Printf("  Bills/Request: %d\n", cfg.BillsPerRequest)
	fmt.Printf("  Total Bills to Request: %d\n", cfg.NumClients*cfg.RequestsPerClient*cfg.BillsPerRequest)
	fmt.Printf("  Target Rate: %d bills/sec\n", cfg.RatePerSecond)
	fmt.Println("-------------------------------------")

	startTime := time.Now()
	var wg sync.WaitGroup
	results := make(chan outcome, cfg.NumClients*cfg.RequestsPerClient)

	for i := 0; i < cfg.NumClients; i++ {
		wg.Add(1)
		go clientWorker(i+1, cfg, &wg, results)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var successCount, failureCount, billsComputed, billsRejected int
	for res := range results {
		fmt.Println(res.msg)
		if res.ok {
			successCount++
			billsComputed += res.bills
			billsRejected += res.failed
		} else {
			failureCount++
		}
	}

	duration := time.Since(startTime)
	fmt.Println("-------------------------------------")
	fmt.Printf("Data generation finished.\n")
	fmt.Printf("Duration: %v\n", duration)
	fmt.Printf("Successful Requests: %d\n", successCount)
	fmt.Printf("Failed Requests: %d\n", failureCount)
	fmt.Printf("Bills Computed: %d\n", billsComputed)
	fmt.Printf("Bills Rejected: %d\n", billsRejected)
	if duration.Seconds() > 0 {
		fmt.Printf("Approximate Throughput: %.2f bills/sec\n", float64(billsComputed)/duration.Seconds())
	}
}
