// handler.go implements a JSON-RPC-style handler over gRPC unary calls.
// Clients send RPCRequest JSON and receive RPCResponse JSON on a single
// Call method, which keeps the daemon buildable without protoc generation.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// RPCRequest is a generic JSON-RPC-style request.
type RPCRequest struct {
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// RPCResponse is a generic JSON-RPC-style response.
type RPCResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Handler dispatches JSON-RPC requests to the Service.
type Handler struct {
	service  *Service
	dispatch map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// NewHandler creates a handler backed by the given service.
func NewHandler(svc *Service) *Handler {
	h := &Handler{service: svc}
	h.dispatch = map[string]handlerFunc{
		"profiles.list":       h.handleListProfiles,
		"profiles.invalid":    h.handleListInvalidProfiles,
		"profiles.reload":     h.handleReload,
		"credentials.resolve": h.handleResolveCredentials,
		"cache.invalidate":    h.handleInvalidateCache,
		"audit.verify":        h.handleVerifyAudit,
	}
	return h
}

// Handle processes a JSON-RPC request and returns a response.
func (h *Handler) Handle(ctx context.Context, req *RPCRequest) *RPCResponse {
	fn, ok := h.dispatch[req.Method]
	if !ok {
		return &RPCResponse{Error: fmt.Sprintf("unknown method: %s", req.Method)}
	}

	result, err := fn(ctx, req.Params)
	if err != nil {
		return &RPCResponse{Error: err.Error()}
	}

	resultJSON, _ := json.Marshal(result)
	return &RPCResponse{Result: resultJSON}
}

// RegisterWithGRPC registers the handler as a gRPC service using a generic
// unary descriptor.
func (h *Handler) RegisterWithGRPC(s *grpc.Server) {
	sd := grpc.ServiceDesc{
		ServiceName: "credchain.v1.CredchainService",
		HandlerType: (*credchainServiceHandler)(nil),
		Methods: []grpc.MethodDesc{
			{
				MethodName: "Call",
				Handler:    h.grpcCallHandler,
			},
		},
		Streams: []grpc.StreamDesc{},
	}
	s.RegisterService(&sd, h)
}

// credchainServiceHandler is the interface type for gRPC service registration.
type credchainServiceHandler interface{}

func (h *Handler) grpcCallHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	var req RPCRequest
	if err := dec(&req); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}

	resp := h.Handle(ctx, &req)
	return resp, nil
}

// --- Handler implementations ---

func (h *Handler) handleListProfiles(_ context.Context, _ json.RawMessage) (any, error) {
	return h.service.ListProfiles(), nil
}

func (h *Handler) handleListInvalidProfiles(_ context.Context, _ json.RawMessage) (any, error) {
	return h.service.ListInvalidProfiles(), nil
}

func (h *Handler) handleReload(_ context.Context, _ json.RawMessage) (any, error) {
	return map[string]bool{"success": true}, h.service.Reload()
}

type profileParam struct {
	Profile string `json:"profile"`
}

func (h *Handler) handleResolveCredentials(ctx context.Context, params json.RawMessage) (any, error) {
	var p profileParam
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, fmt.Errorf("invalid params: %w", err)
	}
	if p.Profile == "" {
		return nil, fmt.Errorf("profile is required")
	}
	return h.service.ResolveCredentials(ctx, p.Profile)
}

func (h *Handler) handleInvalidateCache(_ context.Context, params json.RawMessage) (any, error) {
	var p profileParam
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, fmt.Errorf("invalid params: %w", err)
		}
	}
	h.service.InvalidateCache(p.Profile)
	return map[string]bool{"success": true}, nil
}

func (h *Handler) handleVerifyAudit(_ context.Context, _ json.RawMessage) (any, error) {
	valid, count, err := h.service.VerifyAuditChain()
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"valid": valid,
		"count": count,
	}, nil
}
