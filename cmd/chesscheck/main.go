package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/park285/Cheese-arena/internal/chessclient"
)

func main() {
	var (
		baseURL  = pflag.String("url", envDefault("CHESS_BASE_URL", "http://localhost:8080"), "server base URL")
		wsPath   = pflag.String("ws-path", envDefault("CHESS_WS_PATH", "/ws"), "websocket path")
		username = pflag.String("user", "", "join matchmaking as this user; empty only checks health")
		watch    = pflag.Duration("watch", 10*time.Second, "how long to print incoming frames")
	)
	pflag.Parse()

	client := chessclient.NewClient(*baseURL, chessclient.WithTimeout(8*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Health(ctx); err != nil {
		log.Fatalf("/healthz error: %v", err)
	}
	log.Printf("/healthz ok")

	if *username == "" {
		log.Println("no --user; skipping websocket check")
		return
	}

	wsURL := "ws" + strings.TrimPrefix(strings.TrimRight(*baseURL, "/"), "http") + *wsPath
	ws := chessclient.NewWebSocket(wsURL, 5)
	ws.OnStateChange(func(s chessclient.State) {
		log.Printf("WS state: %s", s)
	})
	ws.OnMessage(func(f chessclient.Frame) {
		fmt.Printf("WS %s %s\n", f.Type, f.Raw)
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Fatalf("WS connect error: %v", err)
	}
	if err := ws.Matchmaking(cctx, *username); err != nil {
		log.Printf("matchmaking send error: %v", err)
	}

	// Observe for a short window
	<-time.After(*watch)
	_ = ws.Close(context.Background())
}

func envDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}
