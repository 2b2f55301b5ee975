// WebSocket load testing tool for pagesync.
// One host creates a room and turns pages; every viewer joins and counts page changes.
// Usage: go run test/loadtest/ws-loadtest.go -url ws://127.0.0.1:9999/ws -viewers 200 -duration 60s
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

type envelope struct {
	Type    string `json:"type"`
	Page    int    `json:"page"`
	Message string `json:"message"`
}

func main() {
	url := flag.String("url", "ws://127.0.0.1:9999/ws", "WebSocket URL to connect to")
	viewers := flag.Int("viewers", 10, "Number of viewer connections")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	interval := flag.Duration("interval", 1*time.Second, "Page turn interval for the host")
	room := flag.String("room", fmt.Sprintf("Load%d", time.Now().Unix()), "Room id to create")
	flag.Parse()

	fmt.Printf("pagesync Load Test\n")
	fmt.Printf("  URL:          %s\n", *url)
	fmt.Printf("  Room:         %s\n", *room)
	fmt.Printf("  Viewers:      %d\n", *viewers)
	fmt.Printf("  Duration:     %s\n", *duration)
	fmt.Printf("  Page every:   %s\n", *interval)
	fmt.Println()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		cancel()
	}()

	var (
		joined       atomic.Int64
		turns        atomic.Int64
		received     atomic.Int64
		errors       atomic.Int64
		connectFails atomic.Int64
		lastTurn     atomic.Int64 // unix nanos of the most recent page turn
		latencySum   atomic.Int64
	)

	host, _, err := websocket.Dial(ctx, *url, nil)
	if err != nil {
		log.Fatalf("host dial: %v", err)
	}
	defer host.CloseNow()

	write := func(c *websocket.Conn, v any) error {
		data, _ := json.Marshal(v)
		return c.Write(ctx, websocket.MessageText, data)
	}
	read := func(c *websocket.Conn) (envelope, error) {
		var env envelope
		_, data, err := c.Read(ctx)
		if err != nil {
			return env, err
		}
		err = json.Unmarshal(data, &env)
		return env, err
	}

	if err := write(host, map[string]any{"type": "create_room", "roomId": *room, "privacy": "public"}); err != nil {
		log.Fatalf("create_room: %v", err)
	}
	if env, err := read(host); err != nil || env.Type != "room_joined" {
		log.Fatalf("create_room reply: %+v %v", env, err)
	}
	doc := map[string]string{"filename": "01LOADTEST0000000000000000.pdf", "originalName": "loadtest.pdf"}
	if err := write(host, map[string]any{"type": "upload_pdf", "pdf": doc}); err != nil {
		log.Fatalf("upload_pdf: %v", err)
	}

	// Drain host frames so its send queue never fills.
	go func() {
		for {
			if _, _, err := host.Read(ctx); err != nil {
				return
			}
		}
	}()

	var wg sync.WaitGroup
	ready := make(chan struct{}, *viewers)
	start := time.Now()

	for i := 0; i < *viewers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var once sync.Once
			markReady := func() { once.Do(func() { ready <- struct{}{} }) }
			defer markReady()

			c, _, err := websocket.Dial(ctx, *url, nil)
			if err != nil {
				connectFails.Add(1)
				return
			}
			defer c.CloseNow()

			if err := write(c, map[string]any{"type": "join_room", "roomId": *room}); err != nil {
				errors.Add(1)
				return
			}
			env, err := read(c)
			if err != nil || env.Type != "room_joined" {
				errors.Add(1)
				return
			}
			joined.Add(1)
			markReady()

			for {
				env, err := read(c)
				if err != nil {
					if ctx.Err() == nil {
						errors.Add(1)
					}
					return
				}
				if env.Type == "page_change" {
					received.Add(1)
					latencySum.Add(time.Now().UnixNano() - lastTurn.Load())
				}
			}
		}()
	}

	// Wait for every viewer to report in before turning pages.
	for i := 0; i < *viewers; i++ {
		select {
		case <-ready:
		case <-ctx.Done():
		}
	}
	fmt.Printf("[%s] joined=%d connect_fails=%d\n", time.Since(start).Round(time.Millisecond), joined.Load(), connectFails.Load())

	go func() {
		ticker := time.NewTicker(*interval)
		defer ticker.Stop()
		page := 1
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				page++
				lastTurn.Store(time.Now().UnixNano())
				if err := write(host, map[string]any{"type": "page_change", "page": page}); err != nil {
					if ctx.Err() == nil {
						errors.Add(1)
					}
					return
				}
				turns.Add(1)
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				elapsed := time.Since(start).Round(time.Second)
				fmt.Printf("[%s] joined=%d turns=%d recv=%d errors=%d\n",
					elapsed, joined.Load(), turns.Load(), received.Load(), errors.Load())
			}
		}
	}()

	<-ctx.Done()
	wg.Wait()
	elapsed := time.Since(start)

	expected := turns.Load() * joined.Load()
	fmt.Println()
	fmt.Println("Results:")
	fmt.Printf("  Duration:        %s\n", elapsed.Round(time.Millisecond))
	fmt.Printf("  Joined:          %d / %d\n", joined.Load(), *viewers)
	fmt.Printf("  Connect fails:   %d\n", connectFails.Load())
	fmt.Printf("  Page turns:      %d\n", turns.Load())
	fmt.Printf("  Deliveries:      %d / %d\n", received.Load(), expected)
	fmt.Printf("  Errors:          %d\n", errors.Load())
	if n := received.Load(); n > 0 {
		fmt.Printf("  Mean fan-out:    %s\n", time.Duration(latencySum.Load()/n).Round(time.Microsecond))
	}

	if connectFails.Load() > 0 || errors.Load() > 0 {
		log.Fatal("Load test completed with errors")
	}
}
