package api

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/victornm/trivia/internal/domain"
	"github.com/victornm/trivia/internal/errors"
)

const gameAdminService = "trivia.v1.GameAdmin"

// GameAdminServer is the host control surface. Every method takes the session ID and returns the
// session as a struct.
type GameAdminServer interface {
	StartGame(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	AdvanceGame(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	RevealAnswer(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	EndGame(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	GetGame(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
}

type adminMethod func(srv GameAdminServer, ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)

var gameAdminServiceDesc = grpc.ServiceDesc{
	ServiceName: gameAdminService,
	HandlerType: (*GameAdminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartGame", Handler: unaryHandler("StartGame", GameAdminServer.StartGame)},
		{MethodName: "AdvanceGame", Handler: unaryHandler("AdvanceGame", GameAdminServer.AdvanceGame)},
		{MethodName: "RevealAnswer", Handler: unaryHandler("RevealAnswer", GameAdminServer.RevealAnswer)},
		{MethodName: "EndGame", Handler: unaryHandler("EndGame", GameAdminServer.EndGame)},
		{MethodName: "GetGame", Handler: unaryHandler("GetGame", GameAdminServer.GetGame)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "trivia/v1/admin.proto",
}

func unaryHandler(name string, call adminMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(wrapperspb.StringValue)
		if err := dec(in); err != nil {
			return nil, err
		}

		if interceptor == nil {
			return call(srv.(GameAdminServer), ctx, in)
		}

		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + gameAdminService + "/" + name,
		}
		return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
			return call(srv.(GameAdminServer), ctx, req.(*wrapperspb.StringValue))
		})
	}
}

func RegisterGameAdminServer(s grpc.ServiceRegistrar, srv GameAdminServer) {
	s.RegisterService(&gameAdminServiceDesc, srv)
}

func (a *API) StartGame(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	ss, err := a.session.Start(ctx, req.GetValue())
	if err != nil {
		return nil, errors.Convert(err)
	}

	return sessionStruct(*ss)
}

func (a *API) AdvanceGame(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	ss, err := a.session.AdvanceToNext(ctx, req.GetValue())
	if err != nil {
		return nil, errors.Convert(err)
	}

	return sessionStruct(*ss)
}

// RevealAnswer reveals the current question of the session.
func (a *API) RevealAnswer(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if _, err := a.session.Reveal(ctx, req.GetValue(), ""); err != nil {
		return nil, errors.Convert(err)
	}

	return a.GetGame(ctx, req)
}

func (a *API) EndGame(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	ss, err := a.session.End(ctx, req.GetValue())
	if err != nil {
		return nil, errors.Convert(err)
	}

	return sessionStruct(*ss)
}

func (a *API) GetGame(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	st, err := a.session.GetState(ctx, req.GetValue())
	if err != nil {
		return nil, errors.Convert(err)
	}

	return sessionStruct(st.Session)
}

func sessionStruct(ss domain.Session) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"sessionId":             ss.SessionID,
		"name":                  ss.Name,
		"status":                string(ss.Status),
		"currentQuestionId":     ss.CurrentQuestionID,
		"currentRound":          ss.CurrentRound,
		"currentQuestionNumber": ss.CurrentQuestionNumber,
	})
	if err != nil {
		return nil, errors.Internal(err)
	}

	return s, nil
}

// GameAdminClient calls the GameAdmin service.
type GameAdminClient struct {
	cc grpc.ClientConnInterface
}

func NewGameAdminClient(cc grpc.ClientConnInterface) *GameAdminClient {
	return &GameAdminClient{cc: cc}
}

func (c *GameAdminClient) StartGame(ctx context.Context, sessionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "StartGame", sessionID, opts...)
}

func (c *GameAdminClient) AdvanceGame(ctx context.Context, sessionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "AdvanceGame", sessionID, opts...)
}

func (c *GameAdminClient) RevealAnswer(ctx context.Context, sessionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "RevealAnswer", sessionID, opts...)
}

func (c *GameAdminClient) EndGame(ctx context.Context, sessionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "EndGame", sessionID, opts...)
}

func (c *GameAdminClient) GetGame(ctx context.Context, sessionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.invoke(ctx, "GetGame", sessionID, opts...)
}

func (c *GameAdminClient) invoke(ctx context.Context, method, sessionID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	err := c.cc.Invoke(ctx, "/"+gameAdminService+"/"+method, wrapperspb.String(sessionID), out, opts...)
	if err != nil {
		return nil, err
	}
	return out, nil
}
