// Package main provides a stub upstream for testing the proxy locally.
// It plays both roles the gateway talks to: a metadata API that echoes the
// translated query back as JSON, and an audio host that serves a synthetic
// range-capable track.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"
)

func main() {
	port := flag.Int("port", 3001, "port to listen on")
	trackKB := flag.Int("track-kb", 512, "size of the synthetic audio track in KiB")
	flag.Parse()

	track := makeTrack(*trackKB * 1024)

	// /audio/{anything} serves the synthetic track with Range support,
	// the way a real CDN host would.
	http.HandleFunc("/audio/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "audio/mpeg")
		http.ServeContent(w, r, "track.mp3", time.Time{}, bytes.NewReader(track))
	})

	// /__status/{code} returns an arbitrary HTTP status code for testing
	// pass-through of upstream errors.
	http.HandleFunc("/__status/", func(w http.ResponseWriter, r *http.Request) {
		codeStr := strings.TrimPrefix(r.URL.Path, "/__status/")
		code, err := strconv.Atoi(codeStr)
		if err != nil || code < 100 || code > 599 {
			code = 500
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"requested_code": code,
			"message":        http.StatusText(code),
		})
	})

	// Everything else acts as the metadata API: echo back the query the
	// gateway built, so signature and parameter translation are visible.
	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		resp := map[string]interface{}{
			"server":    q.Get("server"),
			"type":      q.Get("type"),
			"id":        q.Get("id"),
			"auth":      q.Get("auth"),
			"raw_query": r.URL.RawQuery,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=60")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(resp)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("stubapi listening on %s (track %d KiB)", addr, *trackKB)
	log.Fatal(http.ListenAndServe(addr, nil))
}

// makeTrack builds deterministic pseudo-audio bytes so range requests can
// be verified against known content.
func makeTrack(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i * 31)
	}
	return b
}
