//go:build ignore

// Load test for the dashboard read API: go run loadtest.go
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

var readPaths = []string{
	"/segments",
	"/segments/VIP/customers?limit=50",
	"/segments/AT_RISK/customers?limit=50&offset=50",
	"/segments/LOYAL/recommendation",
	"/runs/latest",
}

func main() {
	baseURL := "http://localhost:8080/api"
	if v := os.Getenv("LOADTEST_BASE_URL"); v != "" {
		baseURL = v
	}

	var successCount int64
	var errorCount int64
	var wg sync.WaitGroup

	numRequests := 1000
	concurrentWorkers := 50

	startTime := time.Now()

	jobs := make(chan int, numRequests)
	results := make(chan bool, numRequests)

	// start workers
	for w := 0; w < concurrentWorkers; w++ {
		wg.Add(1)
		go worker(w, jobs, results, baseURL, &wg)
	}

	// send jobs
	for j := 0; j < numRequests; j++ {
		jobs <- j
	}
	close(jobs)

	wg.Wait()
	close(results)

	for result := range results {
		if result {
			atomic.AddInt64(&successCount, 1)
		} else {
			atomic.AddInt64(&errorCount, 1)
		}
	}

	duration := time.Since(startTime)
	requestsPerSecond := float64(numRequests) / duration.Seconds()

	fmt.Println("Load Test Results:")
	fmt.Println("==================")
	fmt.Printf("Total Requests: %d\n", numRequests)
	fmt.Printf("Successful: %d\n", successCount)
	fmt.Printf("Failed: %d\n", errorCount)
	fmt.Printf("Duration: %v\n", duration)
	fmt.Printf("Requests/sec: %.2f\n", requestsPerSecond)
	fmt.Printf("Success Rate: %.2f%%\n",
		float64(successCount)/float64(numRequests)*100)
}

func worker(
	id int,
	jobs <-chan int,
	results chan<- bool,
	baseURL string,
	wg *sync.WaitGroup,
) {
	defer wg.Done()

	client := &http.Client{
		Timeout: 10 * time.Second,
	}

	for j := range jobs {
		resp, err := client.Get(baseURL + readPaths[j%len(readPaths)])
		if err != nil {
			log.Printf("Worker %d error: %v\n", id, err)
			results <- false
			continue
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()

		results <- resp.StatusCode >= 200 && resp.StatusCode < 300

		time.Sleep(10 * time.Millisecond)
	}
}
