// Command chatload drives many concurrent chat sockets against a running
// gateway and reports ack latency.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

// Metrics tracks the run.
type Metrics struct {
	ConnectionsAttempted int64
	ConnectionsSuccess   int64
	ConnectionsFailed    int64
	MessagesSent         int64
	Acks                 int64
	EventsReceived       int64
	Errors               int64
}

var (
	metrics Metrics

	latMu     sync.Mutex
	latencies []time.Duration
)

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func main() {
	host := flag.String("host", "localhost:8375", "Gateway host")
	secret := flag.String("secret", "", "JWT_SECRET of the gateway (empty for soft-auth dev servers)")
	usersFlag := flag.String("users", "alice,bob,carol", "Comma separated user ids to connect as")
	clients := flag.Int("clients", 30, "Number of concurrent sockets")
	interval := flag.Duration("interval", 2*time.Second, "Send interval per socket")
	duration := flag.Duration("duration", 30*time.Second, "Test duration")
	useTickets := flag.Bool("tickets", true, "Authenticate sockets with single-use tickets")
	flag.Parse()

	users := strings.Split(*usersFlag, ",")
	if len(users) < 2 {
		log.Fatal("❌ at least two users are required")
	}

	log.Printf("🚀 Starting chat load test")
	log.Printf("Target: %s, clients: %d, duration: %v", *host, *clients, *duration)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)

	var wg sync.WaitGroup
	stopChan := make(chan struct{})

	for i := 0; i < *clients; i++ {
		userID := users[i%len(users)]
		peer := users[(i+1)%len(users)]
		token, err := mintToken(*secret, userID)
		if err != nil {
			log.Fatalf("❌ token: %v", err)
		}
		wg.Add(1)
		go runClient(*host, token, *useTickets, peer, i, *interval, stopChan, &wg)
		time.Sleep(20 * time.Millisecond)
	}

	select {
	case <-time.After(*duration):
		log.Println("⏱️  Test duration reached")
	case <-interrupt:
		log.Println("🛑 Interrupted")
	}

	close(stopChan)
	wg.Wait()
	printMetrics()
}

// mintToken signs a short-lived token. Soft-auth servers ignore the signature.
func mintToken(secret, userID string) (string, error) {
	key := secret
	if key == "" {
		key = "chatload"
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	return token.SignedString([]byte(key))
}

func getTicket(host, token string) (string, error) {
	req, _ := http.NewRequest(http.MethodPost, fmt.Sprintf("http://%s/api/ws/ticket", host), nil)
	req.Header.Set("Authorization", "Bearer "+token)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ticket issuance failed with status %d", resp.StatusCode)
	}
	var result struct {
		Ticket string `json:"ticket"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Ticket, nil
}

func runClient(host, token string, useTickets bool, peer string, id int, interval time.Duration, stopChan <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()
	atomic.AddInt64(&metrics.ConnectionsAttempted, 1)

	query := url.Values{}
	if useTickets {
		ticket, err := getTicket(host, token)
		if err != nil {
			atomic.AddInt64(&metrics.ConnectionsFailed, 1)
			atomic.AddInt64(&metrics.Errors, 1)
			return
		}
		query.Set("ticket", ticket)
	} else {
		query.Set("token", token)
	}

	u := url.URL{Scheme: "ws", Host: host, Path: "/api/ws/chat", RawQuery: query.Encode()}
	c, resp, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		atomic.AddInt64(&metrics.ConnectionsFailed, 1)
		atomic.AddInt64(&metrics.Errors, 1)
		return
	}
	if resp != nil && resp.Body != nil {
		defer func() { _ = resp.Body.Close() }()
	}
	defer func() { _ = c.Close() }()
	atomic.AddInt64(&metrics.ConnectionsSuccess, 1)

	var pending sync.Map

	go func() {
		for {
			_, raw, err := c.ReadMessage()
			if err != nil {
				return
			}
			var f frame
			if json.Unmarshal(raw, &f) != nil {
				continue
			}
			switch f.Event {
			case "ack":
				var ack struct {
					Ack string `json:"ack"`
				}
				if json.Unmarshal(f.Data, &ack) == nil {
					if started, ok := pending.LoadAndDelete(ack.Ack); ok {
						recordLatency(time.Since(started.(time.Time)))
					}
				}
				atomic.AddInt64(&metrics.Acks, 1)
			case "error":
				atomic.AddInt64(&metrics.Errors, 1)
			default:
				atomic.AddInt64(&metrics.EventsReceived, 1)
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	seq := 0
	for {
		select {
		case <-stopChan:
			_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case <-ticker.C:
			seq++
			ack := fmt.Sprintf("%d-%d", id, seq)
			pending.Store(ack, time.Now())
			err := c.WriteJSON(map[string]interface{}{
				"event": "chat:send",
				"ack":   ack,
				"data": map[string]string{
					"otherUserId":     peer,
					"text":            fmt.Sprintf("load message %d from client %d", seq, id),
					"clientMessageId": "load-" + ack,
				},
			})
			if err != nil {
				atomic.AddInt64(&metrics.Errors, 1)
				return
			}
			atomic.AddInt64(&metrics.MessagesSent, 1)
		}
	}
}

func recordLatency(d time.Duration) {
	latMu.Lock()
	latencies = append(latencies, d)
	latMu.Unlock()
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)-1) * p)
	return sorted[idx]
}

func printMetrics() {
	latMu.Lock()
	sorted := append([]time.Duration(nil), latencies...)
	latMu.Unlock()
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	log.Println("📊 Results")
	log.Println("==========")
	log.Printf("Connections attempted: %d", atomic.LoadInt64(&metrics.ConnectionsAttempted))
	log.Printf("Connections successful: %d", atomic.LoadInt64(&metrics.ConnectionsSuccess))
	log.Printf("Connections failed: %d", atomic.LoadInt64(&metrics.ConnectionsFailed))
	log.Printf("Messages sent: %d", atomic.LoadInt64(&metrics.MessagesSent))
	log.Printf("Acks: %d", atomic.LoadInt64(&metrics.Acks))
	log.Printf("Events received: %d", atomic.LoadInt64(&metrics.EventsReceived))
	log.Printf("Errors: %d", atomic.LoadInt64(&metrics.Errors))
	log.Printf("Ack latency p50=%v p95=%v p99=%v",
		percentile(sorted, 0.50), percentile(sorted, 0.95), percentile(sorted, 0.99))
}
