// Copyright (C) 2017 Michał Matczuk
// Use of this source code is governed by an AGPL-style
// license that can be found in the LICENSE file.

// Command loadgen drives public traffic at a relay's /t/{id}/ surface and
// emits one JSON event line per request on stdout, in the shape
// benchmark/cmd/hdr expects on stdin.
package main

import (
	"encoding/json"
	"io/ioutil"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/koding/logging"
	"github.com/koding/multiconfig"
)

type config struct {
	URL         string `required:"true"`
	Concurrency int
	Requests    int
}

type event struct {
	Code      int       `json:"code"`
	Timestamp time.Time `json:"timestamp"`
	Latency   int64     `json:"latency"`
	BytesOut  int64     `json:"bytes_out"`
	BytesIn   int64     `json:"bytes_in"`
	Error     string    `json:"error"`
}

func main() {
	m := multiconfig.New()
	cfg := new(config)
	m.MustLoad(cfg)
	m.MustValidate(cfg)

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Requests <= 0 {
		cfg.Requests = 1
	}

	logging.Info("loadgen: %d requests across %d workers against %s", cfg.Requests, cfg.Concurrency, cfg.URL)

	var mu sync.Mutex
	enc := json.NewEncoder(os.Stdout)

	emit := func(e event) {
		mu.Lock()
		defer mu.Unlock()
		enc.Encode(e)
	}

	jobs := make(chan struct{}, cfg.Requests)
	for i := 0; i < cfg.Requests; i++ {
		jobs <- struct{}{}
	}
	close(jobs)

	var wg sync.WaitGroup
	client := &http.Client{Timeout: 30 * time.Second}
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				emit(doRequest(client, cfg.URL))
			}
		}()
	}
	wg.Wait()
}

func doRequest(client *http.Client, url string) event {
	start := time.Now()
	resp, err := client.Get(url)
	if err != nil {
		return event{Timestamp: start, Error: err.Error()}
	}
	defer resp.Body.Close()

	body, err := ioutil.ReadAll(resp.Body)
	latency := time.Since(start).Nanoseconds()
	if err != nil {
		return event{Code: resp.StatusCode, Timestamp: start, Latency: latency, Error: err.Error()}
	}

	return event{
		Code:      resp.StatusCode,
		Timestamp: start,
		Latency:   latency,
		BytesIn:   int64(len(body)),
	}
}
