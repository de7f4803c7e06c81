package main

import (
	"bytes"
	"fmt"
	"io"
	"math/rand"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
)

const (
	baseURL       = "http://127.0.0.1:8090"
	numWorkers    = 50
	testDuration  = 10 * time.Second
	numCharacters = 20
)

var pools = []string{"le", "ae", "ke"}

var (
	idsMu        sync.RWMutex
	characterIDs []int64
)

var httpClient = &http.Client{
	Timeout: 5 * time.Second,
	Transport: &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 200,
		IdleConnTimeout:     30 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   2 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	},
}

type result struct {
	endpoint string
	status   int
	latency  time.Duration
	err      bool
}

type stats struct {
	count     int64
	errors    int64
	latencies []time.Duration
}

func main() {
	fmt.Println("=== charsync Load Test ===")
	fmt.Printf("Workers: %d | Duration: %s | Characters: %d\n\n", numWorkers, testDuration, numCharacters)

	fmt.Print("Waiting for server... ")
	for i := 0; i < 30; i++ {
		resp, err := httpClient.Get(baseURL + "/health")
		if err == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			break
		}
		if i == 29 {
			fmt.Println("FAILED: server not responding")
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	fmt.Println("OK")

	fmt.Println("\n--- Phase 1: Creating characters (POST /characters) ---")
	for i := 0; i < numCharacters; i++ {
		if id, ok := createCharacter(fmt.Sprintf("Load %d", i)); ok {
			characterIDs = append(characterIDs, id)
		}
	}
	if len(characterIDs) == 0 {
		fmt.Println("FAILED: no characters created")
		return
	}
	fmt.Printf("Created %d characters\n", len(characterIDs))

	// Each edit bumps lastModifiedDate and, with a session running, schedules a send.
	fmt.Println("\n--- Phase 2: Mixed load (60% edits, 40% reads) ---")
	runPhase(testDuration, func(rng *rand.Rand) result {
		r := rng.Float64()
		switch {
		case r < 0.40:
			return doJournal(rng)
		case r < 0.60:
			return doEnergy(rng)
		case r < 0.75:
			return doGetCharacter(rng)
		case r < 0.90:
			return doGetList()
		default:
			return doGetSessions()
		}
	})

	fmt.Println("\n--- Phase 3: Read-heavy load (10% edits, 90% reads) ---")
	runPhase(testDuration, func(rng *rand.Rand) result {
		r := rng.Float64()
		switch {
		case r < 0.10:
			return doJournal(rng)
		case r < 0.40:
			return doGetCharacter(rng)
		case r < 0.60:
			return doExport(rng)
		case r < 0.80:
			return doGetList()
		default:
			return doGetSessions()
		}
	})
}

func runPhase(duration time.Duration, workFn func(rng *rand.Rand) result) {
	results := make(chan result, 10000)
	var wg sync.WaitGroup
	var totalOps atomic.Int64
	stop := make(chan struct{})

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(seed int64) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(seed))
			for {
				select {
				case <-stop:
					return
				default:
					r := workFn(rng)
					totalOps.Add(1)
					results <- r
				}
			}
		}(rand.Int63() + int64(i))
	}

	allResults := make(map[string]*stats)
	done := make(chan struct{})
	go func() {
		for r := range results {
			s, ok := allResults[r.endpoint]
			if !ok {
				s = &stats{}
				allResults[r.endpoint] = s
			}
			s.count++
			if r.err {
				s.errors++
			}
			s.latencies = append(s.latencies, r.latency)
		}
		close(done)
	}()

	time.Sleep(duration)
	close(stop)
	wg.Wait()
	close(results)
	<-done

	printResults(allResults, duration)
}

func printResults(allResults map[string]*stats, duration time.Duration) {
	var totalOps int64
	var totalErrors int64

	endpoints := make([]string, 0, len(allResults))
	for ep := range allResults {
		endpoints = append(endpoints, ep)
	}
	sort.Strings(endpoints)

	fmt.Printf("\n  %-22s %8s %6s %10s %10s %10s %10s\n",
		"Endpoint", "Reqs", "Errs", "Avg", "P50", "P95", "P99")
	fmt.Println("  " + repeat("-", 88))

	for _, ep := range endpoints {
		s := allResults[ep]
		totalOps += s.count
		totalErrors += s.errors

		sort.Slice(s.latencies, func(i, j int) bool {
			return s.latencies[i] < s.latencies[j]
		})

		avg := avgDuration(s.latencies)
		p50 := percentile(s.latencies, 0.50)
		p95 := percentile(s.latencies, 0.95)
		p99 := percentile(s.latencies, 0.99)

		fmt.Printf("  %-22s %8d %6d %10s %10s %10s %10s\n",
			ep, s.count, s.errors, fmtDur(avg), fmtDur(p50), fmtDur(p95), fmtDur(p99))
	}

	rps := float64(totalOps) / duration.Seconds()
	fmt.Println("  " + repeat("-", 88))
	fmt.Printf("  Total: %d reqs | Errors: %d (%.1f%%) | RPS: %.0f\n",
		totalOps, totalErrors, float64(totalErrors)/float64(totalOps)*100, rps)
}

func pickCharacter(rng *rand.Rand) int64 {
	idsMu.RLock()
	defer idsMu.RUnlock()
	return characterIDs[rng.Intn(len(characterIDs))]
}

func createCharacter(name string) (int64, bool) {
	data, _ := json.Marshal(map[string]string{"name": name})
	resp, err := httpClient.Post(baseURL+"/characters", "application/json", bytes.NewReader(data))
	if err != nil {
		return 0, false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		return 0, false
	}
	var created struct {
		Character struct {
			ID int64 `json:"id"`
		} `json:"character"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return 0, false
	}
	return created.Character.ID, true
}

func doRequest(endpoint, method, url string, body []byte, want int) result {
	req, err := http.NewRequest(method, url, bytes.NewReader(body))
	if err != nil {
		return result{endpoint, 0, 0, true}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := httpClient.Do(req)
	lat := time.Since(start)
	if err != nil {
		return result{endpoint, 0, lat, true}
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return result{endpoint, resp.StatusCode, lat, resp.StatusCode != want}
}

func doJournal(rng *rand.Rand) result {
	data, _ := json.Marshal(map[string]interface{}{
		"characterId":   pickCharacter(rng),
		"playerMessage": fmt.Sprintf("note %d", rng.Int63()),
	})
	return doRequest("POST /characters/journal", http.MethodPost, baseURL+"/characters/journal", data, http.StatusOK)
}

func doEnergy(rng *rand.Rand) result {
	delta := rng.Intn(11) - 5
	if delta == 0 {
		delta = 1
	}
	data, _ := json.Marshal(map[string]interface{}{
		"characterId": pickCharacter(rng),
		"pool":        pools[rng.Intn(len(pools))],
		"delta":       delta,
	})
	return doRequest("POST /characters/energy", http.MethodPost, baseURL+"/characters/energy", data, http.StatusOK)
}

func doGetCharacter(rng *rand.Rand) result {
	url := fmt.Sprintf("%s/character?id=%d", baseURL, pickCharacter(rng))
	return doRequest("GET /character", http.MethodGet, url, nil, http.StatusOK)
}

func doExport(rng *rand.Rand) result {
	url := fmt.Sprintf("%s/characters/export?id=%d", baseURL, pickCharacter(rng))
	return doRequest("GET /characters/export", http.MethodGet, url, nil, http.StatusOK)
}

func doGetList() result {
	return doRequest("GET /characters", http.MethodGet, baseURL+"/characters", nil, http.StatusOK)
}

func doGetSessions() result {
	return doRequest("GET /sessions", http.MethodGet, baseURL+"/sessions", nil, http.StatusOK)
}

func avgDuration(d []time.Duration) time.Duration {
	if len(d) == 0 {
		return 0
	}
	var sum time.Duration
	for _, v := range d {
		sum += v
	}
	return sum / time.Duration(len(d))
}

func percentile(d []time.Duration, p float64) time.Duration {
	if len(d) == 0 {
		return 0
	}
	idx := int(float64(len(d)) * p)
	if idx >= len(d) {
		idx = len(d) - 1
	}
	return d[idx]
}

func fmtDur(d time.Duration) string {
	if d < time.Millisecond {
		return fmt.Sprintf("%dÂµs", d.Microseconds())
	}
	return fmt.Sprintf("%.1fms", float64(d.Microseconds())/1000.0)
}

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
