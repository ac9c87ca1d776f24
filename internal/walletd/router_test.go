package walletd

import (
	"context"
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/tonbridge/tonbridge/internal/session"
	"github.com/tonbridge/tonbridge/internal/transport"
	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

const testRawAddr = "0:83dfd552e63729b472fcbcc8c45ebcc6691702558b68ec7527e1ba403a0f31a8"

func testAccounts() AccountProvider {
	return AccountProviderFunc(func(context.Context) (Account, error) {
		return Account{Address: testRawAddr, PublicKey: "aabb", StateInit: "te6cc"}, nil
	})
}

func okManifest(ctx context.Context, url string) (Manifest, error) {
	return Manifest{URL: "https://app.example", Name: "demo"}, nil
}

func mkFrame(id, name string, args ...any) transport.Frame {
	raw := make([]json.RawMessage, 0, len(args))
	for _, a := range args {
		b, _ := json.Marshal(a)
		raw = append(raw, b)
	}
	return transport.Frame{Type: transport.TypeRequest, ID: id, Name: name, Args: raw}
}

func decodeEvent(t *testing.T, f transport.Frame) proto.Event {
	t.Helper()
	var ev proto.Event
	if err := json.Unmarshal(f.Payload, &ev); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	return ev
}

func decodeResponse(t *testing.T, f transport.Frame) proto.WalletResponse {
	t.Helper()
	var resp proto.WalletResponse
	if err := json.Unmarshal(f.Payload, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp
}

func connectFrame(id int64) transport.Frame {
	req := proto.ConnectRequest{
		ManifestURL: "https://app.example/manifest.json",
		Items:       []proto.ConnectItem{{Name: proto.ItemTonAddr}},
	}
	return mkFrame(strconv.FormatInt(id, 10), proto.MethodConnect, req, id)
}

func TestConnectGrantsTonAddr(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	r := New(Config{Store: store, Accounts: testAccounts(), Manifest: okManifest})

	out := r.Handle(context.Background(), "client-1", "demo", connectFrame(1))
	if out.Type != transport.TypeResponse || out.ID != "1" {
		t.Fatalf("frame = %+v", out)
	}
	ev := decodeEvent(t, out)
	if ev.Event != proto.EventConnect || ev.ID != 1 {
		t.Fatalf("event = %+v", ev)
	}
	var payload proto.ConnectPayload
	if err := json.Unmarshal(ev.Payload, &payload); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if len(payload.Items) != 1 {
		t.Fatalf("items = %+v", payload.Items)
	}
	item := payload.Items[0]
	if item.Address != testRawAddr || item.Network != NetworkMainnet || item.PublicKey != "aabb" {
		t.Fatalf("ton_addr reply = %+v", item)
	}

	if _, ok, _ := store.Get(context.Background(), "client-1"); !ok {
		t.Fatalf("session not persisted")
	}
}

func TestConnectManifestFailures(t *testing.T) {
	tests := []struct {
		name     string
		manifest string
		loader   ManifestLoader
		want     proto.ErrorCode
	}{
		{"bad url", "not a url", nil, proto.CodeManifestNotFound},
		{"missing", "https://app.example/manifest.json",
			func(context.Context, string) (Manifest, error) { return Manifest{}, ErrManifestNotFound },
			proto.CodeManifestNotFound},
		{"content", "https://app.example/manifest.json",
			func(context.Context, string) (Manifest, error) { return Manifest{}, ErrManifestContent },
			proto.CodeManifestContentError},
	}
	for _, tt := range tests {
		r := New(Config{Store: session.NewMemoryStore(time.Minute), Accounts: testAccounts(), Manifest: tt.loader})
		req := proto.ConnectRequest{ManifestURL: tt.manifest, Items: []proto.ConnectItem{{Name: proto.ItemTonAddr}}}
		out := r.Handle(context.Background(), "c", "", mkFrame("1", proto.MethodConnect, req, int64(1)))
		ev := decodeEvent(t, out)
		if ev.Event != proto.EventConnectError {
			t.Fatalf("%s: event = %q", tt.name, ev.Event)
		}
		var pe proto.Error
		_ = json.Unmarshal(ev.Payload, &pe)
		if pe.Code != tt.want {
			t.Fatalf("%s: code = %d; want %d", tt.name, pe.Code, tt.want)
		}
	}
}

func TestConnectDeclined(t *testing.T) {
	r := New(Config{
		Store:    session.NewMemoryStore(time.Minute),
		Accounts: testAccounts(),
		Manifest: okManifest,
		Approver: ApproverFunc(func(context.Context, Manifest, proto.ConnectRequest) (bool, error) {
			return false, nil
		}),
	})
	out := r.Handle(context.Background(), "c", "", connectFrame(1))
	ev := decodeEvent(t, out)
	var pe proto.Error
	_ = json.Unmarshal(ev.Payload, &pe)
	if pe.Code != proto.CodeUserDeclined {
		t.Fatalf("code = %d; want %d", pe.Code, proto.CodeUserDeclined)
	}
}

func TestConnectUnsupportedItem(t *testing.T) {
	r := New(Config{Store: session.NewMemoryStore(time.Minute), Accounts: testAccounts(), Manifest: okManifest})
	req := proto.ConnectRequest{
		ManifestURL: "https://app.example/manifest.json",
		Items:       []proto.ConnectItem{{Name: proto.ItemTonAddr}, {Name: proto.ItemTonProof, Payload: "challenge"}},
	}
	out := r.Handle(context.Background(), "c", "", mkFrame("1", proto.MethodConnect, req, int64(1)))
	var payload proto.ConnectPayload
	_ = json.Unmarshal(decodeEvent(t, out).Payload, &payload)
	if len(payload.Items) != 2 {
		t.Fatalf("items = %+v", payload.Items)
	}
	if payload.Items[1].Error == nil || payload.Items[1].Error.Code != proto.CodeMethodNotSupported {
		t.Fatalf("ton_proof reply = %+v", payload.Items[1])
	}
}

func TestReconnect(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	r := New(Config{Store: store, Accounts: testAccounts(), Manifest: okManifest})

	// Unknown client first.
	out := r.Handle(context.Background(), "client-1", "", mkFrame("1", proto.MethodReconnect, int64(1)))
	ev := decodeEvent(t, out)
	var pe proto.Error
	_ = json.Unmarshal(ev.Payload, &pe)
	if ev.Event != proto.EventConnectError || pe.Code != proto.CodeUnknownApp {
		t.Fatalf("event = %+v payload = %+v", ev, pe)
	}

	r.Handle(context.Background(), "client-1", "demo", connectFrame(2))
	out = r.Handle(context.Background(), "client-1", "", mkFrame("3", proto.MethodReconnect, int64(3)))
	ev = decodeEvent(t, out)
	if ev.Event != proto.EventConnect || ev.ID != 3 {
		t.Fatalf("event = %+v", ev)
	}
	var payload proto.ConnectPayload
	_ = json.Unmarshal(ev.Payload, &payload)
	if len(payload.Items) != 1 || payload.Items[0].Address != testRawAddr {
		t.Fatalf("restored items = %+v", payload.Items)
	}
}

func TestDisconnectDeletesSession(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	r := New(Config{Store: store, Accounts: testAccounts(), Manifest: okManifest})
	r.Handle(context.Background(), "client-1", "demo", connectFrame(1))

	msg := proto.AppRequest{Method: proto.MethodDisconnect, ID: 9}
	out := r.Handle(context.Background(), "client-1", "", mkFrame("2", proto.MethodDisconnect, msg))
	resp := decodeResponse(t, out)
	if resp.ID != 9 || resp.Error != nil {
		t.Fatalf("response = %+v", resp)
	}
	if _, ok, _ := store.Get(context.Background(), "client-1"); ok {
		t.Fatalf("session survived disconnect")
	}
}

func TestWalletMethodDispatch(t *testing.T) {
	store := session.NewMemoryStore(time.Minute)
	r := New(Config{Store: store, Accounts: testAccounts(), Manifest: okManifest})
	r.RegisterMethod(proto.MethodSendTransaction, func(_ context.Context, _ string, params []json.RawMessage) (json.RawMessage, *proto.Error) {
		return json.RawMessage(`"boc"`), nil
	})

	msg := proto.AppRequest{Method: proto.MethodSendTransaction, ID: 4}

	// Without a session the method is refused.
	out := r.Handle(context.Background(), "client-1", "", mkFrame("1", proto.MethodSendTransaction, msg))
	if resp := decodeResponse(t, out); resp.Error == nil || resp.Error.Code != proto.CodeUnknownApp {
		t.Fatalf("response = %+v", resp)
	}

	r.Handle(context.Background(), "client-1", "demo", connectFrame(1))
	out = r.Handle(context.Background(), "client-1", "", mkFrame("2", proto.MethodSendTransaction, msg))
	resp := decodeResponse(t, out)
	if resp.Error != nil || string(resp.Result) != `"boc"` || resp.ID != 4 {
		t.Fatalf("response = %+v", resp)
	}

	// Unregistered methods answer 400 with the request's id.
	other := proto.AppRequest{Method: "signData", ID: 5}
	out = r.Handle(context.Background(), "client-1", "", mkFrame("3", "signData", other))
	resp = decodeResponse(t, out)
	if resp.Error == nil || resp.Error.Code != proto.CodeMethodNotSupported || resp.ID != 5 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestRawAddressNormalization(t *testing.T) {
	got, err := rawAddress(testRawAddr)
	if err != nil {
		t.Fatalf("rawAddress: %v", err)
	}
	if got != testRawAddr {
		t.Fatalf("rawAddress = %q; want %q", got, testRawAddr)
	}
	if _, err := rawAddress("nonsense"); err == nil {
		t.Fatalf("expected error for malformed address")
	}
}
