// Package main - agitator
// Churn generator for stress testing: N websocket clients randomly
// despawn, spawn and toggle monsters while the server keeps ticking.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MRamiBalles/CrowdCombat/server/internal/network"
	"github.com/MRamiBalles/CrowdCombat/server/internal/platform/logger"
	"github.com/MRamiBalles/CrowdCombat/server/internal/tick"
)

// Config for the agitator
type Config struct {
	ServerURL      string
	NumClients     int
	ActionInterval time.Duration
	TestDuration   time.Duration
	Format         network.Format
	Reconfigure    bool
	Seed           int64
}

// Stats tracks performance metrics
type Stats struct {
	CommandsSent   int64
	Acks           int64
	ErrorReplies   int64
	FramesReceived int64
	FailedTicks    int64
	Errors         int64
	Latencies      []time.Duration
	mu             sync.Mutex
}

func (s *Stats) addLatency(d time.Duration) {
	s.mu.Lock()
	s.Latencies = append(s.Latencies, d)
	s.mu.Unlock()
}

func main() {
	serverURL := flag.String("url", "ws://localhost:8080/ws", "WebSocket server URL")
	numClients := flag.Int("clients", 20, "Number of concurrent clients")
	interval := flag.Duration("interval", 100*time.Millisecond, "Command interval per client")
	duration := flag.Duration("duration", 60*time.Second, "Test duration")
	format := flag.String("format", "json", "Wire format: json or msgpack")
	reconfigure := flag.Bool("reconfigure", false, "Also send random RECONFIGURE commands")
	seed := flag.Int64("seed", time.Now().UnixNano(), "Random seed")
	flag.Parse()

	config := Config{
		ServerURL:      *serverURL,
		NumClients:     *numClients,
		ActionInterval: *interval,
		TestDuration:   *duration,
		Format:         network.ParseFormat(*format),
		Reconfigure:    *reconfigure,
		Seed:           *seed,
	}
	log := logger.NewLogger().With("agitator")

	fmt.Println("=========================================")
	fmt.Println("AGITATOR - crowd churn generator")
	fmt.Println("=========================================")
	fmt.Printf("Server: %s (%s)\n", config.ServerURL, config.Format)
	fmt.Printf("Clients: %d\n", config.NumClients)
	fmt.Printf("Interval: %v\n", config.ActionInterval)
	fmt.Printf("Duration: %v\n", config.TestDuration)
	fmt.Println("=========================================")

	ctx, cancel := context.WithTimeout(context.Background(), config.TestDuration)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		log.Warn("Interrupt received, stopping...")
		cancel()
	}()

	stats := runStressTest(ctx, config, log)
	printResults(stats, config)
}

func runStressTest(ctx context.Context, config Config, log *logger.Logger) *Stats {
	stats := &Stats{
		Latencies: make([]time.Duration, 0, 10000),
	}

	var wg sync.WaitGroup
	for i := 0; i < config.NumClients; i++ {
		wg.Add(1)
		go func(clientID int) {
			defer wg.Done()
			runClient(ctx, clientID, config, stats, log)
		}(i)

		// Stagger client starts to avoid thundering herd
		time.Sleep(10 * time.Millisecond)
	}
	log.Info(fmt.Sprintf("All %d clients started", config.NumClients))

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Info(fmt.Sprintf("Progress: sent=%d acks=%d frames=%d errors=%d",
					atomic.LoadInt64(&stats.CommandsSent), atomic.LoadInt64(&stats.Acks),
					atomic.LoadInt64(&stats.FramesReceived), atomic.LoadInt64(&stats.Errors)))
			}
		}
	}()

	wg.Wait()
	return stats
}

func runClient(ctx context.Context, clientID int, config Config, stats *Stats, log *logger.Logger) {
	u, err := url.Parse(config.ServerURL)
	if err != nil {
		log.Error(fmt.Sprintf("Client %d: URL parse error: %v", clientID, err))
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	q := u.Query()
	q.Set("format", config.Format.String())
	u.RawQuery = q.Encode()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		log.Error(fmt.Sprintf("Client %d: connection failed: %v", clientID, err))
		atomic.AddInt64(&stats.Errors, 1)
		return
	}
	defer conn.Close()

	var pending sync.Map // seq -> send time

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env network.Envelope
			if err := network.Decode(config.Format, data, &env); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				continue
			}
			switch env.Type {
			case network.MessageFrame:
				atomic.AddInt64(&stats.FramesReceived, 1)
				if env.Frame != nil {
					atomic.AddInt64(&stats.FailedTicks, int64(env.Frame.Failed))
				}
			case network.MessageAck, network.MessageError:
				if env.Type == network.MessageAck {
					atomic.AddInt64(&stats.Acks, 1)
				} else {
					atomic.AddInt64(&stats.ErrorReplies, 1)
				}
				if sent, ok := pending.LoadAndDelete(env.Seq); ok {
					stats.addLatency(time.Since(sent.(time.Time)))
				}
			}
		}
	}()

	rng := rand.New(rand.NewSource(config.Seed + int64(clientID)))
	messageType := websocket.TextMessage
	if config.Format == network.FormatMsgpack {
		messageType = websocket.BinaryMessage
	}

	ticker := time.NewTicker(config.ActionInterval)
	defer ticker.Stop()

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			seq++
			cmd := randomCommand(rng, seq, config.Reconfigure)
			data, err := network.Encode(config.Format, cmd)
			if err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				continue
			}
			pending.Store(seq, time.Now())
			if err := conn.WriteMessage(messageType, data); err != nil {
				atomic.AddInt64(&stats.Errors, 1)
				return
			}
			atomic.AddInt64(&stats.CommandsSent, 1)
		}
	}
}

// randomCommand keeps the population roughly stable: despawns and spawns
// are equally likely.
func randomCommand(rng *rand.Rand, seq uint64, reconfigure bool) network.ClientCommand {
	cmd := network.ClientCommand{Seq: seq}
	roll := rng.Intn(100)
	switch {
	case roll < 35:
		cmd.Type = network.CommandDespawn
	case roll < 70:
		cmd.Type = network.CommandSpawn
		cmd.Count = 1
	case roll < 95:
		active := rng.Intn(2) == 0
		cmd.Type = network.CommandSetActive
		cmd.Active = &active
	case roll < 97:
		cmd.Type = network.CommandPoolDisable
	case roll < 99 || !reconfigure:
		cmd.Type = network.CommandPoolEnable
	default:
		cmd.Type = network.CommandReconfigure
		cmd.Config = &tick.Config{BatchSize: 5 + rng.Intn(40), TickIntervalFrames: 1 + rng.Intn(10)}
	}
	return cmd
}

func printResults(stats *Stats, config Config) {
	fmt.Println("\n=========================================")
	fmt.Println("CHURN TEST RESULTS")
	fmt.Println("=========================================")

	sent := atomic.LoadInt64(&stats.CommandsSent)
	acks := atomic.LoadInt64(&stats.Acks)
	rejected := atomic.LoadInt64(&stats.ErrorReplies)
	frames := atomic.LoadInt64(&stats.FramesReceived)
	failed := atomic.LoadInt64(&stats.FailedTicks)
	errs := atomic.LoadInt64(&stats.Errors)

	fmt.Printf("Commands Sent:     %d\n", sent)
	fmt.Printf("Acks:              %d\n", acks)
	fmt.Printf("Rejected:          %d\n", rejected)
	fmt.Printf("Frame Reports:     %d\n", frames)
	fmt.Printf("Failed Ticks:      %d\n", failed)
	fmt.Printf("Errors:            %d\n", errs)
	fmt.Printf("Error Rate:        %.2f%%\n", float64(errs)/float64(sent+1)*100)

	throughput := float64(sent) / config.TestDuration.Seconds()
	fmt.Printf("Throughput:        %.2f cmd/sec\n", throughput)

	stats.mu.Lock()
	latencies := append([]time.Duration(nil), stats.Latencies...)
	stats.mu.Unlock()
	if len(latencies) > 0 {
		var total time.Duration
		lo, hi := latencies[0], latencies[0]
		for _, l := range latencies {
			total += l
			lo = min(lo, l)
			hi = max(hi, l)
		}
		fmt.Printf("\nCommand round trip:\n")
		fmt.Printf("  Min: %v\n", lo)
		fmt.Printf("  Avg: %v\n", total/time.Duration(len(latencies)))
		fmt.Printf("  Max: %v\n", hi)
	}

	fmt.Println("\n-----------------------------------------")
	switch {
	case errs == 0 && frames > 0:
		fmt.Println("TEST PASSED: server kept ticking under churn")
	case float64(errs)/float64(sent+1) < 0.05:
		fmt.Println("TEST WARNING: some errors detected")
	default:
		fmt.Println("TEST FAILED: high error rate")
	}
	fmt.Println("=========================================")

	results := map[string]interface{}{
		"commands_sent":      sent,
		"acks":               acks,
		"rejected":           rejected,
		"frames_received":    frames,
		"failed_ticks":       failed,
		"errors":             errs,
		"throughput_per_sec": throughput,
		"config": map[string]interface{}{
			"clients":  config.NumClients,
			"interval": config.ActionInterval.String(),
			"duration": config.TestDuration.String(),
			"format":   config.Format.String(),
		},
	}

	jsonData, _ := json.MarshalIndent(results, "", "  ")
	os.WriteFile("churn_test_results.json", jsonData, 0644)
	fmt.Println("\nResults saved to churn_test_results.json")
}
