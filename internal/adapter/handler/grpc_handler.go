package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/status"

	"github.com/rl1809/storefront/internal/core/domain"
)

const (
	CodecName   = "json"
	serviceName = "storefront.Catalog"
)

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// jsonCodec lets the catalog service speak JSON over gRPC without generated
// protobuf types. Clients opt in with grpc.CallContentSubtype(CodecName).
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}

type CatalogRequest struct {
	IfNoneMatch string `json:"if_none_match,omitempty"`
}

type CatalogResponse struct {
	Fingerprint string          `json:"fingerprint"`
	NotModified bool            `json:"not_modified"`
	Catalog     json.RawMessage `json:"catalog,omitempty"`
}

type WatchRequest struct{}

// CatalogServer is the contract registered under storefront.Catalog.
type CatalogServer interface {
	GetCatalog(ctx context.Context, req *CatalogRequest) (*CatalogResponse, error)
	WatchStoreStatus(req *WatchRequest, stream grpc.ServerStream) error
}

type GRPCHandler struct {
	catalog CatalogReader
	store   Store
}

func NewGRPCHandler(catalog CatalogReader, store Store) *GRPCHandler {
	return &GRPCHandler{catalog: catalog, store: store}
}

func (h *GRPCHandler) Register(s *grpc.Server) {
	s.RegisterService(&CatalogServiceDesc, h)
}

func (h *GRPCHandler) GetCatalog(ctx context.Context, req *CatalogRequest) (*CatalogResponse, error) {
	snap, notModified, err := h.catalog.Lookup(ctx, req.IfNoneMatch)
	if err != nil {
		return nil, grpcError(err)
	}
	resp := &CatalogResponse{Fingerprint: snap.Fingerprint, NotModified: notModified}
	if !notModified {
		resp.Catalog = snap.Payload
	}
	return resp, nil
}

// WatchStoreStatus sends the current status, then every broadcast event.
// The stream ends when the client leaves or its queue overflows.
func (h *GRPCHandler) WatchStoreStatus(_ *WatchRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	l, st, err := h.store.Subscribe(ctx)
	if err != nil {
		return grpcError(err)
	}
	defer h.store.Unsubscribe(l)

	if err := stream.SendMsg(&domain.Event{Kind: domain.EventStatus, Status: &st, At: st.UpdatedAt}); err != nil {
		return err
	}
	for {
		select {
		case ev := <-l.Events():
			if err := stream.SendMsg(&ev); err != nil {
				return err
			}
		case <-l.Done():
			return status.Error(codes.ResourceExhausted, "listener fell behind")
		case <-ctx.Done():
			return nil
		}
	}
}

func getCatalogHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(CatalogRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CatalogServer).GetCatalog(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/GetCatalog"}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(CatalogServer).GetCatalog(ctx, req.(*CatalogRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func watchStoreStatusHandler(srv any, stream grpc.ServerStream) error {
	in := new(WatchRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(CatalogServer).WatchStoreStatus(in, stream)
}

var CatalogServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*CatalogServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetCatalog", Handler: getCatalogHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchStoreStatus", Handler: watchStoreStatusHandler, ServerStreams: true},
	},
}

// CatalogClient calls storefront.Catalog over a connection using the JSON codec.
type CatalogClient struct {
	conn grpc.ClientConnInterface
}

func NewCatalogClient(conn grpc.ClientConnInterface) *CatalogClient {
	return &CatalogClient{conn: conn}
}

func (c *CatalogClient) GetCatalog(ctx context.Context, req *CatalogRequest) (*CatalogResponse, error) {
	out := new(CatalogResponse)
	err := c.conn.Invoke(ctx, "/"+serviceName+"/GetCatalog", req, out, grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StatusStream yields store events from WatchStoreStatus.
type StatusStream struct {
	stream grpc.ClientStream
}

func (s *StatusStream) Recv() (*domain.Event, error) {
	ev := new(domain.Event)
	if err := s.stream.RecvMsg(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

func (c *CatalogClient) WatchStoreStatus(ctx context.Context) (*StatusStream, error) {
	stream, err := c.conn.NewStream(ctx, &CatalogServiceDesc.Streams[0], "/"+serviceName+"/WatchStoreStatus", grpc.CallContentSubtype(CodecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(&WatchRequest{}); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}
	return &StatusStream{stream: stream}, nil
}

// grpcError reuses the HTTP mapping so both transports agree.
func grpcError(err error) error {
	code, body := httpError(err)
	var c codes.Code
	switch code {
	case http.StatusNotFound:
		c = codes.NotFound
	case http.StatusConflict:
		c = codes.Aborted
	case http.StatusLocked:
		c = codes.Unavailable
	case http.StatusForbidden:
		c = codes.PermissionDenied
	case http.StatusBadRequest:
		c = codes.InvalidArgument
		if errors.Is(err, domain.ErrInsufficientStock) {
			c = codes.FailedPrecondition
		}
	default:
		c = codes.Internal
	}
	return status.Error(c, body.Message)
}
