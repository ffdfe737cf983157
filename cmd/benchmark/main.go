// Benchmark tool for measuring Kestrel against synthetic card history.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -entries 2000
//	go run ./cmd/benchmark -write-csv data/transactions.csv
//
// This tool:
//  1. Generates a labeled purchase history and uploads it to POST /train
//  2. Generates a second history with a different seed as a holdout
//  3. Scores every holdout transaction through POST /predict
//  4. Compares the verdicts with the labels and prints the confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"mime/multipart"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/opensource-finance/kestrel/internal/synth"
)

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64
	FalsePositives int64
	TrueNegatives  int64
	FalseNegatives int64

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	ProcessingTimeMs int64
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	entries := flag.Int("entries", 2000, "Training history size")
	holdout := flag.Int("holdout", 1000, "Holdout size")
	seed := flag.Int64("seed", 42, "Generator seed for the training history")
	creditScore := flag.Int("credit-score", 710, "Card holder credit score")
	age := flag.Int("age", 42, "Card holder age")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	writeCSV := flag.String("write-csv", "", "Write the training history to this path and exit")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	opts := synth.DefaultOptions()
	opts.Entries = *entries
	opts.Seed = *seed
	opts.CreditScore = *creditScore
	opts.Age = *age
	history := synth.Generate(opts)

	if *writeCSV != "" {
		if err := writeHistory(*writeCSV, history); err != nil {
			fmt.Printf("ERROR: failed to write %s: %v\n", *writeCSV, err)
			os.Exit(1)
		}
		fmt.Printf("wrote %d transactions to %s\n", len(history), *writeCSV)
		return
	}

	fmt.Println("KESTREL BENCHMARK - synthetic card history")
	fmt.Printf("\nKestrel URL: %s\n", *baseURL)
	fmt.Printf("Training:    %d (seed %d)\n", *entries, *seed)
	fmt.Printf("Holdout:     %d (seed %d)\n", *holdout, *seed+1)
	fmt.Printf("Workers:     %d\n\n", *workers)

	client := &http.Client{Timeout: 2 * time.Minute}
	if err := checkHealth(client, *baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run ./cmd/kestrel")
		os.Exit(1)
	}

	start := time.Now()
	report, err := train(client, *baseURL, history, *creditScore, *age)
	if err != nil {
		fmt.Printf("ERROR: training failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("trained in %v, AUC %.4f\n", time.Since(start).Round(time.Millisecond), report.AUC)

	opts.Entries = *holdout
	opts.Seed = *seed + 1
	test := synth.Generate(opts)

	fmt.Printf("\nScoring %d transactions with %d workers...\n", len(test), *workers)
	startTime := time.Now()
	m := runBenchmark(test, *baseURL, *creditScore, *age, *workers, *verbose)
	printResults(m, time.Since(startTime))
}

func writeHistory(path string, history []domain.Transaction) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := synth.WriteCSV(f, history); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func checkHealth(client *http.Client, baseURL string) error {
	resp, err := client.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func train(client *http.Client, baseURL string, history []domain.Transaction, creditScore, age int) (*domain.TrainingReport, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	mw.WriteField("creditScore", fmt.Sprint(creditScore))
	mw.WriteField("age", fmt.Sprint(age))
	fw, err := mw.CreateFormFile("file", "history.csv")
	if err != nil {
		return nil, err
	}
	if err := synth.WriteCSV(fw, history); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/train", mw.FormDataContentType(), &body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var out struct {
		Report *domain.TrainingReport `json:"report"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	if out.Report == nil {
		return nil, fmt.Errorf("response has no report")
	}
	return out.Report, nil
}

func runBenchmark(transactions []domain.Transaction, baseURL string, creditScore, age, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan domain.Transaction, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 30 * time.Second}

			for tx := range work {
				start := time.Now()
				result, err := predict(client, baseURL, tx, creditScore, age)
				atomic.AddInt64(&metrics.ProcessingTimeMs, time.Since(start).Milliseconds())
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", tx.ID, err)
					}
					continue
				}

				actual := tx.Label() == 1
				if actual {
					atomic.AddInt64(&metrics.TotalFraud, 1)
				} else {
					atomic.AddInt64(&metrics.TotalNonFraud, 1)
				}

				predicted := result.Fraud
				switch {
				case predicted && actual:
					atomic.AddInt64(&metrics.TruePositives, 1)
				case predicted && !actual:
					atomic.AddInt64(&metrics.FalsePositives, 1)
				case !predicted && !actual:
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				default:
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					mark := "ok "
					if predicted != actual {
						mark = "ERR"
					}
					fmt.Printf("%s %-28s | %-16s | %9.2f | fraud: %-5v | kestrel: %.2f %v\n",
						mark, tx.Name, tx.Location, tx.Amount, actual, result.Score, result.Reasons)
				}
			}
		}()
	}

	for _, tx := range transactions {
		work <- tx
	}
	close(work)
	wg.Wait()

	return metrics
}

func predict(client *http.Client, baseURL string, tx domain.Transaction, creditScore, age int) (*domain.EvaluationResponse, error) {
	body, err := json.Marshal(domain.ScoreRequest{
		DateTime:    tx.Timestamp.Format(time.RFC3339),
		Name:        tx.Name,
		Amount:      tx.Amount,
		Location:    tx.Location,
		Zip:         tx.Zip,
		Balance:     tx.Balance,
		CreditScore: creditScore,
		Age:         age,
	})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/predict", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result domain.EvaluationResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\nBENCHMARK RESULTS")

	fmt.Printf("\nDATASET\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\nCONFUSION MATRIX\n")
	fmt.Println("                     Predicted")
	fmt.Println("                 fraud     legit")
	fmt.Printf("   Actual  F  %8d  %8d   (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Printf("          NF  %8d  %8d   (FP, TN)\n", m.FalsePositives, m.TrueNegatives)

	precision := ratio(m.TruePositives, m.TruePositives+m.FalsePositives)
	recall := ratio(m.TruePositives, m.TruePositives+m.FalseNegatives)
	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}
	accuracy := ratio(m.TruePositives+m.TrueNegatives,
		m.TruePositives+m.TrueNegatives+m.FalsePositives+m.FalseNegatives)

	fmt.Printf("\nDETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f\n", precision)
	fmt.Printf("   Recall:     %.4f\n", recall)
	fmt.Printf("   F1-Score:   %.4f\n", f1)
	fmt.Printf("   Accuracy:   %.4f\n", accuracy)

	fmt.Printf("\nPERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}
	fmt.Println()
}

func ratio(num, den int64) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}
