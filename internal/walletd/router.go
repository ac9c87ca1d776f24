// Package walletd is the privileged wallet side of the bridge boundary. It
// routes incoming bridge frames to connection handling, session persistence
// and the wallet methods registered by the embedding application.
package walletd

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tonbridge/tonbridge/core/logx"
	"github.com/tonbridge/tonbridge/internal/metrics"
	"github.com/tonbridge/tonbridge/internal/session"
	"github.com/tonbridge/tonbridge/internal/transport"
	"github.com/tonbridge/tonbridge/tonconnect/proto"
)

// Approver decides whether a connection request is granted. Typically backed
// by a user prompt in the embedding wallet. A nil Approver grants
// everything.
type Approver interface {
	ApproveConnect(ctx context.Context, manifest Manifest, req proto.ConnectRequest) (bool, error)
}

// ApproverFunc adapts a function to Approver.
type ApproverFunc func(ctx context.Context, manifest Manifest, req proto.ConnectRequest) (bool, error)

func (f ApproverFunc) ApproveConnect(ctx context.Context, m Manifest, req proto.ConnectRequest) (bool, error) {
	return f(ctx, m, req)
}

// Handler serves one wallet method invocation for a connected client.
type Handler func(ctx context.Context, clientID string, params []json.RawMessage) (json.RawMessage, *proto.Error)

// Config assembles a Router.
type Config struct {
	Store    session.Store
	Accounts AccountProvider
	Approver Approver
	// Manifest fetches the dapp manifest; nil skips the fetch and keeps
	// only the syntactic URL check.
	Manifest ManifestLoader
	Logger   *zerolog.Logger
}

// Router dispatches bridge request frames by method name.
type Router struct {
	store    session.Store
	accounts AccountProvider
	approver Approver
	manifest ManifestLoader
	methods  map[string]Handler
	log      zerolog.Logger
	now      func() time.Time
}

// New constructs a Router. Store and Accounts are required.
func New(cfg Config) *Router {
	r := &Router{
		store:    cfg.Store,
		accounts: cfg.Accounts,
		approver: cfg.Approver,
		manifest: cfg.Manifest,
		methods:  map[string]Handler{},
		log:      logx.Log,
		now:      time.Now,
	}
	if cfg.Logger != nil {
		r.log = *cfg.Logger
	}
	return r
}

// RegisterMethod exposes a wallet method (e.g. sendTransaction) to
// connected dapps. Must be called before serving.
func (r *Router) RegisterMethod(name string, h Handler) {
	r.methods[name] = h
}

// Handle processes one request frame and returns the response frame.
func (r *Router) Handle(ctx context.Context, clientID, clientName string, f transport.Frame) transport.Frame {
	start := r.now()
	metrics.RecordRequest(f.Name)
	resp, errCode := r.dispatch(ctx, clientID, clientName, f)
	metrics.RecordComplete(f.Name, errCode, errCode == "", time.Since(start))
	return resp
}

func (r *Router) dispatch(ctx context.Context, clientID, clientName string, f transport.Frame) (transport.Frame, string) {
	switch f.Name {
	case proto.MethodConnect:
		return r.handleConnect(ctx, clientID, clientName, f)
	case proto.MethodReconnect:
		return r.handleReconnect(ctx, clientID, f)
	case proto.MethodDisconnect:
		return r.handleDisconnect(ctx, clientID, f)
	case proto.MethodDeactivate:
		_ = r.store.Touch(ctx, clientID)
		return respond(f, json.RawMessage(`{}`)), ""
	default:
		return r.handleMethod(ctx, clientID, f)
	}
}

func (r *Router) handleConnect(ctx context.Context, clientID, clientName string, f transport.Frame) (transport.Frame, string) {
	var req proto.ConnectRequest
	var id int64
	if len(f.Args) < 2 ||
		json.Unmarshal(f.Args[0], &req) != nil ||
		json.Unmarshal(f.Args[1], &id) != nil {
		return respondEvent(f, proto.NewConnectError(id, proto.CodeBadRequest, "Malformed connect request")), codeLabel(proto.CodeBadRequest)
	}

	manifest, perr := r.loadManifest(ctx, req)
	if perr != nil {
		return respondEvent(f, proto.NewConnectError(id, perr.Code, perr.Message)), codeLabel(perr.Code)
	}

	if r.approver != nil {
		ok, err := r.approver.ApproveConnect(ctx, manifest, req)
		if err != nil {
			r.log.Warn().Err(err).Str("client", clientID).Msg("connect approval failed")
			return respondEvent(f, proto.NewConnectError(id, proto.CodeUnknown, "Unknown error")), codeLabel(proto.CodeUnknown)
		}
		if !ok {
			return respondEvent(f, proto.NewConnectError(id, proto.CodeUserDeclined, "User declined the connection")), codeLabel(proto.CodeUserDeclined)
		}
	}

	account, err := r.accounts.Account(ctx)
	if err != nil {
		r.log.Error().Err(err).Msg("account provider failed")
		return respondEvent(f, proto.NewConnectError(id, proto.CodeUnknown, "Unknown error")), codeLabel(proto.CodeUnknown)
	}
	replies := r.itemReplies(account, req.Items)

	sess := session.Session{
		ClientID:    clientID,
		ClientName:  clientName,
		ManifestURL: req.ManifestURL,
		Items:       req.Items,
		Replies:     replies,
		CreatedAt:   r.now().UTC(),
		LastSeen:    r.now().UTC(),
	}
	if err := r.store.Put(ctx, sess); err != nil {
		r.log.Error().Err(err).Str("client", clientID).Msg("persist session")
		return respondEvent(f, proto.NewConnectError(id, proto.CodeUnknown, "Unknown error")), codeLabel(proto.CodeUnknown)
	}

	r.log.Info().Str("client", clientID).Str("app", manifest.Name).Msg("dapp connected")
	return respondEvent(f, connectEvent(id, replies)), ""
}

func (r *Router) loadManifest(ctx context.Context, req proto.ConnectRequest) (Manifest, *proto.Error) {
	if err := validateManifestURL(req.ManifestURL); err != nil {
		return Manifest{}, &proto.Error{Code: proto.CodeManifestNotFound, Message: "App manifest not found"}
	}
	if r.manifest == nil {
		return Manifest{URL: req.ManifestURL}, nil
	}
	m, err := r.manifest(ctx, req.ManifestURL)
	switch {
	case err == nil:
		return m, nil
	case errors.Is(err, ErrManifestContent):
		return Manifest{}, &proto.Error{Code: proto.CodeManifestContentError, Message: "App manifest content error"}
	default:
		return Manifest{}, &proto.Error{Code: proto.CodeManifestNotFound, Message: "App manifest not found"}
	}
}

// itemReplies answers each requested item. Unsupported items become
// per-item errors rather than failing the whole connection.
func (r *Router) itemReplies(account Account, items []proto.ConnectItem) []proto.ConnectItemReply {
	replies := make([]proto.ConnectItemReply, 0, len(items))
	for _, item := range items {
		switch item.Name {
		case proto.ItemTonAddr:
			addr, err := rawAddress(account.Address)
			if err != nil {
				r.log.Error().Err(err).Msg("account address rejected")
				replies = append(replies, proto.ConnectItemReply{
					Name:  item.Name,
					Error: &proto.Error{Code: proto.CodeUnknown, Message: "Unknown error"},
				})
				continue
			}
			network := account.Network
			if network == "" {
				network = NetworkMainnet
			}
			replies = append(replies, proto.ConnectItemReply{
				Name:            item.Name,
				Address:         addr,
				Network:         network,
				WalletStateInit: account.StateInit,
				PublicKey:       account.PublicKey,
			})
		default:
			replies = append(replies, proto.ConnectItemReply{
				Name:  item.Name,
				Error: &proto.Error{Code: proto.CodeMethodNotSupported, Message: "Method is not supported"},
			})
		}
	}
	return replies
}

func (r *Router) handleReconnect(ctx context.Context, clientID string, f transport.Frame) (transport.Frame, string) {
	var id int64
	if len(f.Args) < 1 || json.Unmarshal(f.Args[0], &id) != nil {
		return respondEvent(f, proto.NewConnectError(id, proto.CodeBadRequest, "Malformed reconnect request")), codeLabel(proto.CodeBadRequest)
	}
	sess, ok, err := r.store.Get(ctx, clientID)
	if err != nil {
		r.log.Error().Err(err).Str("client", clientID).Msg("load session")
		return respondEvent(f, proto.NewConnectError(id, proto.CodeUnknown, "Unknown error")), codeLabel(proto.CodeUnknown)
	}
	if !ok {
		return respondEvent(f, proto.NewConnectError(id, proto.CodeUnknownApp, "Unknown app")), codeLabel(proto.CodeUnknownApp)
	}
	_ = r.store.Touch(ctx, clientID)
	return respondEvent(f, connectEvent(id, sess.Replies)), ""
}

func (r *Router) handleDisconnect(ctx context.Context, clientID string, f transport.Frame) (transport.Frame, string) {
	var msg proto.AppRequest
	if len(f.Args) >= 1 {
		_ = json.Unmarshal(f.Args[0], &msg)
	}
	if err := r.store.Delete(ctx, clientID); err != nil {
		r.log.Error().Err(err).Str("client", clientID).Msg("delete session")
	}
	r.log.Info().Str("client", clientID).Msg("dapp disconnected")
	return respondResponse(f, proto.WalletResponse{Result: json.RawMessage(`{}`), ID: msg.ID}), ""
}

func (r *Router) handleMethod(ctx context.Context, clientID string, f transport.Frame) (transport.Frame, string) {
	var msg proto.AppRequest
	if len(f.Args) < 1 || json.Unmarshal(f.Args[0], &msg) != nil {
		return respondResponse(f, proto.WalletResponse{
			Error: &proto.Error{Code: proto.CodeBadRequest, Message: "Malformed request"},
		}), codeLabel(proto.CodeBadRequest)
	}
	if _, ok, _ := r.store.Get(ctx, clientID); !ok {
		return respondResponse(f, proto.WalletResponse{
			Error: &proto.Error{Code: proto.CodeUnknownApp, Message: "Unknown app"},
			ID:    msg.ID,
		}), codeLabel(proto.CodeUnknownApp)
	}
	h, ok := r.methods[f.Name]
	if !ok {
		return respondResponse(f, proto.WalletResponse{
			Error: &proto.Error{Code: proto.CodeMethodNotSupported, Message: "Method is not supported"},
			ID:    msg.ID,
		}), codeLabel(proto.CodeMethodNotSupported)
	}
	result, perr := h(ctx, clientID, msg.Params)
	if perr != nil {
		return respondResponse(f, proto.WalletResponse{Error: perr, ID: msg.ID}), codeLabel(perr.Code)
	}
	_ = r.store.Touch(ctx, clientID)
	return respondResponse(f, proto.WalletResponse{Result: result, ID: msg.ID}), ""
}

// connectEvent builds a connect success event. Device is left zero: the
// bridge overwrites it with its own descriptor on receipt.
func connectEvent(id int64, replies []proto.ConnectItemReply) proto.Event {
	payload, _ := json.Marshal(proto.ConnectPayload{Items: replies})
	return proto.Event{Event: proto.EventConnect, ID: id, Payload: payload}
}

func respond(f transport.Frame, payload json.RawMessage) transport.Frame {
	return transport.Frame{Type: transport.TypeResponse, ID: f.ID, Payload: payload}
}

func respondEvent(f transport.Frame, ev proto.Event) transport.Frame {
	b, _ := json.Marshal(ev)
	return respond(f, b)
}

func respondResponse(f transport.Frame, resp proto.WalletResponse) transport.Frame {
	b, _ := json.Marshal(resp)
	return respond(f, b)
}

func codeLabel(c proto.ErrorCode) string { return strconv.Itoa(int(c)) }
