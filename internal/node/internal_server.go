package node

import (
	"context"
	"errors"
	"log"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"causalog/internal/clock"
	"causalog/internal/types"
)

const (
	peerServiceName   = "causalog.v1.Peer"
	deliverFullMethod = "/" + peerServiceName + "/Deliver"
)

// PeerService is the peer-to-peer delivery RPC. The request carries the
// JSON encoding of a types.Message.
type PeerService interface {
	Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error)
}

// MessageHandler accepts an inbound peer message.
type MessageHandler interface {
	Message(msg types.Message) error
}

var peerServiceDesc = grpc.ServiceDesc{
	ServiceName: peerServiceName,
	HandlerType: (*PeerService)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Deliver",
			Handler:    deliverHandler,
		},
	},
	Streams: []grpc.StreamDesc{},
}

// RegisterPeerServer registers srv on s.
func RegisterPeerServer(s grpc.ServiceRegistrar, srv PeerService) {
	s.RegisterService(&peerServiceDesc, srv)
}

func deliverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.BytesValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(PeerService).Deliver(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: deliverFullMethod,
	}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(PeerService).Deliver(ctx, req.(*wrapperspb.BytesValue))
	}
	return interceptor(ctx, in, info, handler)
}

// PeerServer implements PeerService on top of a MessageHandler.
type PeerServer struct {
	nodeID  string
	handler MessageHandler
}

// NewPeerServer creates a new peer server instance.
func NewPeerServer(nodeID string, handler MessageHandler) *PeerServer {
	return &PeerServer{
		nodeID:  nodeID,
		handler: handler,
	}
}

// Deliver handles a message pushed by a peer's fan-out.
func (s *PeerServer) Deliver(ctx context.Context, req *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	msg, err := protoToMessage(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	if err := s.handler.Message(msg); err != nil {
		log.Printf("[%s] Deliver from %s rejected: %v", s.nodeID, msg.Sender, err)
		if errors.Is(err, types.ErrUnknownNode) || errors.Is(err, clock.ErrKindMismatch) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &emptypb.Empty{}, nil
}
