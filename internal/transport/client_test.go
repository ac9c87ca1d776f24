package transport

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

type fakeWSConn struct {
	writeCh chan []byte
	readCh  chan []byte
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{writeCh: make(chan []byte, 8), readCh: make(chan []byte, 8)}
}

func (f *fakeWSConn) Read(ctx context.Context) (websocket.MessageType, []byte, error) {
	select {
	case data, ok := <-f.readCh:
		if !ok {
			return 0, nil, context.Canceled
		}
		return websocket.MessageText, data, nil
	case <-ctx.Done():
		return 0, nil, ctx.Err()
	}
}

func (f *fakeWSConn) Write(ctx context.Context, typ websocket.MessageType, data []byte) error {
	f.writeCh <- data
	return nil
}

func TestFrameRoundTrip(t *testing.T) {
	raw := json.RawMessage(`{"manifestUrl":"https://app.example/manifest.json"}`)
	f := Frame{Type: TypeRequest, ID: "1", Name: "connect", Args: []json.RawMessage{raw}}
	b, err := json.Marshal(f)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var got Frame
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Type != TypeRequest || got.Name != "connect" || string(got.Args[0]) != string(raw) {
		t.Fatalf("frame changed across codec: %+v", got)
	}
}

func TestCallCorrelatesResponse(t *testing.T) {
	ws := newFakeWSConn()
	c := NewClient(ws)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	done := make(chan json.RawMessage, 1)
	go func() {
		payload, err := c.Call(ctx, "connect", proto.ConnectRequest{ManifestURL: "https://app.example/manifest.json"}, int64(1))
		if err != nil {
			t.Errorf("call: %v", err)
		}
		done <- payload
	}()

	out := <-ws.writeCh
	var req Frame
	if err := json.Unmarshal(out, &req); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	if req.Type != TypeRequest || req.Name != "connect" || len(req.Args) != 2 {
		t.Fatalf("unexpected request frame: %+v", req)
	}

	resp, _ := json.Marshal(Frame{Type: TypeResponse, ID: req.ID, Payload: json.RawMessage(`{"ok":true}`)})
	ws.readCh <- resp

	select {
	case payload := <-done:
		if string(payload) != `{"ok":true}` {
			t.Fatalf("payload = %s", payload)
		}
	case <-time.After(time.Second):
		t.Fatalf("call never resolved")
	}
}

func TestCallToleratesReorderedResponses(t *testing.T) {
	ws := newFakeWSConn()
	c := NewClient(ws)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	type result struct {
		payload json.RawMessage
		err     error
	}
	first := make(chan result, 1)
	second := make(chan result, 1)
	go func() {
		p, err := c.Call(ctx, "connect", int64(1))
		first <- result{p, err}
	}()
	out1 := <-ws.writeCh
	go func() {
		p, err := c.Call(ctx, "connect", int64(2))
		second <- result{p, err}
	}()
	out2 := <-ws.writeCh

	var f1, f2 Frame
	_ = json.Unmarshal(out1, &f1)
	_ = json.Unmarshal(out2, &f2)

	// Answer the second request before the first.
	r2, _ := json.Marshal(Frame{Type: TypeResponse, ID: f2.ID, Payload: json.RawMessage(`{"n":2}`)})
	ws.readCh <- r2
	r1, _ := json.Marshal(Frame{Type: TypeResponse, ID: f1.ID, Payload: json.RawMessage(`{"n":1}`)})
	ws.readCh <- r1

	got2 := <-second
	got1 := <-first
	if got1.err != nil || got2.err != nil {
		t.Fatalf("call errors: %v %v", got1.err, got2.err)
	}
	if string(got1.payload) != `{"n":1}` || string(got2.payload) != `{"n":2}` {
		t.Fatalf("responses crossed: %s %s", got1.payload, got2.payload)
	}
}

func TestCallFailsWhenConnectionDrops(t *testing.T) {
	ws := newFakeWSConn()
	c := NewClient(ws)
	runDone := make(chan struct{})
	go func() {
		_ = c.Run(context.Background())
		close(runDone)
	}()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(context.Background(), "connect", int64(1))
		errCh <- err
	}()
	<-ws.writeCh
	close(ws.readCh) // simulate connection loss
	<-runDone

	select {
	case err := <-errCh:
		if err != ErrClosed {
			t.Fatalf("err = %v; want ErrClosed", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("call hung after connection loss")
	}

	if _, err := c.Call(context.Background(), "ping"); err != ErrClosed {
		t.Fatalf("post-close call err = %v; want ErrClosed", err)
	}
}

func TestEventFramesReachHandler(t *testing.T) {
	ws := newFakeWSConn()
	c := NewClient(ws)
	events := make(chan proto.Event, 1)
	c.OnEvent(func(ev proto.Event) { events <- ev })
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	ev, _ := json.Marshal(proto.NewDisconnect(3))
	frame, _ := json.Marshal(Frame{Type: TypeEvent, Payload: ev})
	ws.readCh <- frame

	select {
	case got := <-events:
		if got.Event != proto.EventDisconnect || got.ID != 3 {
			t.Fatalf("event = %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("event never delivered")
	}
}

func TestCallErrorFrame(t *testing.T) {
	ws := newFakeWSConn()
	c := NewClient(ws)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	errCh := make(chan error, 1)
	go func() {
		_, err := c.Call(ctx, "sendTransaction")
		errCh <- err
	}()
	out := <-ws.writeCh
	var req Frame
	_ = json.Unmarshal(out, &req)
	resp, _ := json.Marshal(Frame{Type: TypeResponse, ID: req.ID, Error: "wallet locked"})
	ws.readCh <- resp

	if err := <-errCh; err == nil || err.Error() != "wallet locked" {
		t.Fatalf("err = %v; want wallet locked", err)
	}
}
