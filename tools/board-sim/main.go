// board-sim fires concurrent moves against one appointment with the same
// expected version, to observe the conflict behavior under contention:
// exactly one request should win and the rest should come back 409 with the
// winner's version.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"
)

func main() {
	var (
		baseURL = flag.String("base-url", getenv("BASE_URL", "http://localhost:8090"), "board service base url")
		apptID  = flag.String("appointment-id", getenv("APPOINTMENT_ID", ""), "appointment to move")
		target  = flag.String("target-status", getenv("TARGET_STATUS", "in_progress"), "target status")
		actor   = flag.String("actor-id", getenv("ACTOR_ID", "board-sim"), "actor id header value")
		workers = flag.Int("workers", 5, "number of concurrent movers")
	)
	flag.Parse()

	if strings.TrimSpace(*apptID) == "" {
		fatal("APPOINTMENT_ID is required")
	}
	if *workers < 1 {
		fatal("workers must be at least 1")
	}

	client := &http.Client{Timeout: 10 * time.Second}
	base := strings.TrimRight(*baseURL, "/")

	version, status, err := fetchAppointment(client, base, *apptID)
	if err != nil {
		fatal(err.Error())
	}
	fmt.Printf("appointment=%s status=%s version=%d workers=%d\n", *apptID, status, version, *workers)

	body, err := json.Marshal(map[string]any{
		"appointment_id":   *apptID,
		"target_status":    *target,
		"expected_version": version,
	})
	if err != nil {
		fatal(err.Error())
	}

	type outcome struct {
		status int
		body   string
	}
	results := make([]outcome, *workers)

	var wg sync.WaitGroup
	for i := 0; i < *workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			req, err := http.NewRequest(http.MethodPost, base+"/api/v1/board/move", bytes.NewReader(body))
			if err != nil {
				results[i] = outcome{status: -1, body: err.Error()}
				return
			}
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("X-Actor-Id", fmt.Sprintf("%s-%d", *actor, i))

			resp, err := client.Do(req)
			if err != nil {
				results[i] = outcome{status: -1, body: err.Error()}
				return
			}
			defer resp.Body.Close()
			raw, _ := io.ReadAll(resp.Body)
			results[i] = outcome{status: resp.StatusCode, body: strings.TrimSpace(string(raw))}
		}(i)
	}
	wg.Wait()

	var won, conflicted, other int
	for i, r := range results {
		fmt.Printf("worker=%d status=%d body=%s\n", i, r.status, r.body)
		switch r.status {
		case http.StatusOK:
			won++
		case http.StatusConflict:
			conflicted++
		default:
			other++
		}
	}
	fmt.Printf("won=%d conflicted=%d other=%d\n", won, conflicted, other)

	if won != 1 {
		fmt.Fprintf(os.Stderr, "expected exactly one winner, got %d\n", won)
		os.Exit(1)
	}
}

func fetchAppointment(client *http.Client, base, id string) (int64, string, error) {
	resp, err := client.Get(base + "/api/v1/appointments?id=" + id)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("fetch appointment: status %d", resp.StatusCode)
	}

	var payload struct {
		Status  string `json:"status"`
		Version int64  `json:"version"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, "", err
	}
	return payload.Version, payload.Status, nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fatal(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(2)
}
