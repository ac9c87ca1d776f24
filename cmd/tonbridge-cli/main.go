// Command tonbridge-cli is a dapp-side probe for a running tonbridged. It
// dials the bridge endpoint, drives a connection through its lifecycle and
// prints every event the wallet emits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/tonbridge/tonbridge/core/logx"
	"github.com/tonbridge/tonbridge/core/reconnect"
	"github.com/tonbridge/tonbridge/internal/transport"
	"github.com/tonbridge/tonbridge/tonconnect/bridge"
	"github.com/tonbridge/tonbridge/tonconnect/device"
	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

var (
	version   = "dev"
	buildSHA  = "unknown"
	buildDate = "unknown"
)

// teardownHooks adapts process shutdown to the bridge's teardown
// subscription contract.
type teardownHooks struct {
	mu    sync.Mutex
	seq   int
	hooks map[int]func()
}

func (t *teardownHooks) Subscribe(hook func()) (cancel func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.hooks == nil {
		t.hooks = map[int]func(){}
	}
	t.seq++
	id := t.seq
	t.hooks[id] = hook
	return func() {
		t.mu.Lock()
		delete(t.hooks, id)
		t.mu.Unlock()
	}
}

func (t *teardownHooks) Fire() {
	t.mu.Lock()
	hooks := make([]func(), 0, len(t.hooks))
	for _, h := range t.hooks {
		hooks = append(hooks, h)
	}
	t.mu.Unlock()
	for _, h := range hooks {
		h()
	}
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	url := flag.String("url", "ws://127.0.0.1:8080/bridge", "bridge websocket endpoint")
	clientID := flag.String("client-id", "", "stable dapp host id; random when empty")
	clientName := flag.String("client-name", "tonbridge-cli", "dapp host display name")
	clientKey := flag.String("client-key", "", "shared key expected by the daemon")
	manifestURL := flag.String("manifest", "https://example.com/tonconnect-manifest.json", "dapp manifest URL sent with connect")
	proofPayload := flag.String("proof-payload", "", "request ton_proof with this challenge payload")
	restore := flag.Bool("restore", false, "restore a previous connection instead of connecting")
	method := flag.String("method", "", "wallet method to invoke after connecting")
	params := flag.String("params", "", "JSON parameter object for --method")
	watch := flag.Bool("watch", false, "stay connected and print wallet events until interrupted")
	timeout := flag.Duration("timeout", 30*time.Second, "per-operation timeout")
	logLevel := flag.String("log-level", "warn", "log verbosity")
	flag.Parse()
	if *showVersion {
		fmt.Printf("tonbridge-cli version=%s sha=%s date=%s\n", version, buildSHA, buildDate)
		return
	}
	logx.Configure(*logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	id := *clientID
	if id == "" {
		id = uuid.NewString()
	}

	client, conn, err := dial(ctx, *url, id, *clientName, *clientKey)
	if err != nil {
		logx.Log.Fatal().Err(err).Str("url", *url).Msg("dial bridge")
	}
	defer func() { _ = conn.CloseNow() }()

	td := &teardownHooks{}
	br := bridge.New(bridge.Config{
		Connector: client,
		Device:    device.Provider(device.Config{AppName: "tonbridge-cli", AppVersion: version}),
		Teardown:  td.Subscribe,
	})
	events := make(chan proto.Event, 16)
	br.Listen(func(ev proto.Event) { events <- ev })
	client.OnEvent(func(ev proto.Event) {
		if ev.Event == proto.EventDisconnect {
			br.OnDisconnect()
		}
	})
	go func() {
		if err := client.Run(ctx); err != nil && ctx.Err() == nil {
			logx.Log.Warn().Err(err).Msg("bridge connection lost")
		}
	}()
	go func() {
		for ev := range events {
			printJSON(ev)
		}
	}()

	octx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()
	if *restore {
		br.RestoreConnection(octx)
	} else {
		items := []proto.ConnectItem{{Name: proto.ItemTonAddr}}
		if *proofPayload != "" {
			items = append(items, proto.ConnectItem{Name: proto.ItemTonProof, Payload: *proofPayload})
		}
		br.Connect(octx, proto.Version, proto.ConnectRequest{ManifestURL: *manifestURL, Items: items})
	}

	if *method != "" {
		var p []json.RawMessage
		if *params != "" {
			p = []json.RawMessage{json.RawMessage(*params)}
		}
		resp := br.Send(octx, proto.AppRequest{Method: *method, Params: p, ID: time.Now().UnixMilli()})
		printJSON(resp)
	}

	if *watch {
		<-ctx.Done()
	} else {
		printJSON(br.Send(octx, proto.AppRequest{Method: proto.MethodDisconnect, ID: time.Now().UnixMilli()}))
	}
	// Fires the best-effort deactivate hook when a connection is still
	// armed, mirroring a page unload.
	td.Fire()
}

// dial retries transient dial failures on the standard backoff schedule.
func dial(ctx context.Context, url, id, name, key string) (*transport.Client, *websocket.Conn, error) {
	var lastErr error
	for attempt := 0; attempt < 5; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(reconnect.Delay(attempt - 1)):
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			}
		}
		client, conn, err := transport.Dial(ctx, url, id, name, key)
		if err == nil {
			return client, conn, nil
		}
		lastErr = err
		logx.Log.Warn().Err(err).Int("attempt", attempt+1).Msg("dial failed")
	}
	return nil, nil, lastErr
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	fmt.Println(string(b))
}
