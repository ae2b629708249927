package remote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// Handler serves a Store over websocket JSON-RPC. Each connection is
// handled sequentially: responses come back in request order.
type Handler struct {
	store  Store
	logger *slog.Logger
}

// NewHandler creates a handler backed by store. Get requests need store to
// implement Getter.
func NewHandler(store Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{store: store, logger: logger.With("component", "remote-server")}
}

// ServeHTTP upgrades the request and runs the read loop until the client
// disconnects.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "session ended")
	conn.SetReadLimit(maxMessageBytes)

	h.logger.Debug("client connected", "remote", r.RemoteAddr)
	ctx := r.Context()

	for {
		var req RPCRequest
		if err := wsjson.Read(ctx, conn, &req); err != nil {
			h.logger.Debug("read ended", "error", err)
			return
		}

		resp := h.dispatch(ctx, req)
		if err := wsjson.Write(ctx, conn, resp); err != nil {
			h.logger.Debug("write failed", "error", err)
			return
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, req RPCRequest) RPCResponse {
	resp := RPCResponse{ID: req.ID}
	p := req.Params
	if p.Kind == "" {
		resp.Error = &RPCError{Code: http.StatusBadRequest, Message: "kind is required"}
		return resp
	}

	var err error
	switch req.Method {
	case MethodCreate:
		var id string
		id, err = h.store.Create(ctx, p.Kind, p.Data)
		if err == nil {
			resp.Result = &RPCResult{ID: id}
		}
	case MethodUpdate:
		err = h.store.Update(ctx, p.Kind, p.ID, p.Data)
		if err == nil {
			resp.Result = &RPCResult{ID: p.ID}
		}
	case MethodDelete:
		err = h.store.Delete(ctx, p.Kind, p.ID)
		if err == nil {
			resp.Result = &RPCResult{ID: p.ID}
		}
	case MethodGet:
		getter, ok := h.store.(Getter)
		if !ok {
			resp.Error = &RPCError{Code: http.StatusNotImplemented, Message: "get not supported"}
			return resp
		}
		doc, gerr := getter.Get(ctx, p.Kind, p.ID)
		err = gerr
		if err == nil {
			resp.Result = &RPCResult{ID: p.ID, Data: doc}
		}
	default:
		resp.Error = &RPCError{Code: http.StatusBadRequest, Message: "unknown method " + req.Method}
		return resp
	}

	if err != nil {
		if errors.Is(err, context.Canceled) {
			h.logger.Debug("request cancelled", "method", req.Method)
		} else {
			h.logger.Warn("request failed", "method", req.Method, "kind", p.Kind, "id", p.ID, "error", err)
		}
		resp.Error = rpcErrorFrom(err)
	}
	return resp
}
