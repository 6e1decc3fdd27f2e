package api

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"math"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"musicschool/internal/availability"
	"musicschool/internal/config"
	"musicschool/internal/domain"
	"musicschool/internal/models"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/reflection"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	availabilityServiceName = "musicschool.availability.v1.AvailabilityService"

	methodListAvailableSlots = "/" + availabilityServiceName + "/ListAvailableSlots"
	methodListAvailableRooms = "/" + availabilityServiceName + "/ListAvailableRooms"
	methodCheckConflicts     = "/" + availabilityServiceName + "/CheckConflicts"
)

// AvailabilityServer is the read-only availability API exposed over gRPC.
// Messages are google.protobuf.Struct so clients need no generated stubs.
type AvailabilityServer interface {
	ListAvailableSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	ListAvailableRooms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	CheckConflicts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

var availabilityServiceDesc = grpc.ServiceDesc{
	ServiceName: availabilityServiceName,
	HandlerType: (*AvailabilityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListAvailableSlots", Handler: structHandler(methodListAvailableSlots, AvailabilityServer.ListAvailableSlots)},
		{MethodName: "ListAvailableRooms", Handler: structHandler(methodListAvailableRooms, AvailabilityServer.ListAvailableRooms)},
		{MethodName: "CheckConflicts", Handler: structHandler(methodCheckConflicts, AvailabilityServer.CheckConflicts)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "musicschool/availability/v1/availability.proto",
}

type structMethod func(AvailabilityServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func structHandler(fullMethod string, call structMethod) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(AvailabilityServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(AvailabilityServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// AvailabilityService answers availability queries from the engine.
type AvailabilityService struct {
	engine domain.AvailabilityEngine
}

func NewAvailabilityService(engine domain.AvailabilityEngine) *AvailabilityService {
	return &AvailabilityService{engine: engine}
}

func (s *AvailabilityService) ListAvailableSlots(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	slots, err := s.engine.ListAvailableSlots(ctx, stringField(req, "date"), models.NormalizeBookingType(stringField(req, "type")))
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{"availableSlots": stringList(slots)})
}

func (s *AvailabilityService) ListAvailableRooms(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	duration, err := durationField(req)
	if err != nil {
		return nil, grpcError(err)
	}
	rooms, err := s.engine.ListAvailableRooms(ctx,
		stringField(req, "date"),
		stringField(req, "startTime"),
		duration,
		models.NormalizeBookingType(stringField(req, "type")),
	)
	if err != nil {
		return nil, grpcError(err)
	}

	list := make([]any, 0, len(rooms))
	for _, room := range rooms {
		list = append(list, map[string]any{
			"id":          room.ID,
			"name":        room.Name,
			"type":        string(room.Type),
			"capacity":    room.Capacity,
			"description": room.Description,
		})
	}
	return structpb.NewStruct(map[string]any{"rooms": list})
}

func (s *AvailabilityService) CheckConflicts(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	duration, err := durationField(req)
	if err != nil {
		return nil, grpcError(err)
	}
	conflicts, err := s.engine.CheckConflicts(ctx, availability.ConflictQuery{
		Date:        stringField(req, "date"),
		BookingType: models.NormalizeBookingType(stringField(req, "type")),
		StartTime:   stringField(req, "startTime"),
		Duration:    duration,
		RoomID:      stringField(req, "roomId"),
	})
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{"conflicts": stringList(conflicts)})
}

func stringField(req *structpb.Struct, name string) string {
	if req == nil {
		return ""
	}
	return strings.TrimSpace(req.GetFields()[name].GetStringValue())
}

// durationField reads "duration" as a whole number given either as a JSON
// number or as a decimal string. A missing field is 0 and fails range
// validation in the engine.
func durationField(req *structpb.Struct) (int, error) {
	v, ok := req.GetFields()["duration"]
	if !ok {
		return 0, nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		n := kind.NumberValue
		if n != math.Trunc(n) || math.IsInf(n, 0) || n > math.MaxInt32 || n < math.MinInt32 {
			return 0, fmt.Errorf("%w: %v is not a whole number of hours", availability.ErrInvalidDuration, n)
		}
		return int(n), nil
	case *structpb.Value_StringValue:
		n, err := strconv.Atoi(strings.TrimSpace(kind.StringValue))
		if err != nil {
			return 0, fmt.Errorf("%w: %q", availability.ErrInvalidDuration, kind.StringValue)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: expected a number", availability.ErrInvalidDuration)
	}
}

func stringList(items []string) []any {
	out := make([]any, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}

type GRPCServer struct {
	cfg      config.APIConfig
	server   *grpc.Server
	listener net.Listener
	log      zerolog.Logger
}

func NewGRPCServer(cfg config.APIConfig, engine domain.AvailabilityEngine, logger *zerolog.Logger) (*GRPCServer, error) {
	addr := fmt.Sprintf(":%d", cfg.GRPC.Port)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen %s: %w", addr, err)
	}
	srv, err := newGRPCServer(cfg, engine, logger, lis)
	if err != nil {
		lis.Close()
		return nil, err
	}
	return srv, nil
}

func newGRPCServer(cfg config.APIConfig, engine domain.AvailabilityEngine, logger *zerolog.Logger, lis net.Listener) (*GRPCServer, error) {
	auth := NewAuthInterceptor(cfg)
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(LoggingUnaryInterceptor(logger), auth.Unary()),
	}
	if cfg.GRPC.TLS.Enabled {
		tlsCfg, err := buildTLSConfig(cfg.GRPC.TLS)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsCfg)))
	}

	grpcServer := grpc.NewServer(serverOpts...)
	grpcServer.RegisterService(&availabilityServiceDesc, NewAvailabilityService(engine))

	if cfg.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	serverLogger := zerolog.Nop()
	if logger != nil {
		serverLogger = logger.With().Str("component", "grpc").Logger()
	}

	return &GRPCServer{
		cfg:      cfg,
		server:   grpcServer,
		listener: lis,
		log:      serverLogger,
	}, nil
}

func buildTLSConfig(cfg config.APITLSConfig) (*tls.Config, error) {
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, fmt.Errorf("grpc tls enabled but cert_file/key_file not set")
	}

	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load grpc tls keypair: %w", err)
	}

	tlsCfg := &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}

	if cfg.RequireClientCert {
		if cfg.ClientCAFile == "" {
			return nil, fmt.Errorf("grpc tls require_client_cert=true but client_ca_file not set")
		}
		caPEM, err := os.ReadFile(cfg.ClientCAFile)
		if err != nil {
			return nil, fmt.Errorf("read client_ca_file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, fmt.Errorf("failed to parse client_ca_file PEM")
		}
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
		tlsCfg.ClientCAs = pool
	}

	return tlsCfg, nil
}

func (s *GRPCServer) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *GRPCServer) Serve() error {
	s.log.Info().Str("addr", s.Addr()).Msg("gRPC API listening")
	if err := s.server.Serve(s.listener); err != nil && err != grpc.ErrServerStopped {
		return err
	}
	return nil
}

func (s *GRPCServer) Shutdown(ctx context.Context) {
	if s.server == nil {
		return
	}

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	case <-time.After(10 * time.Second):
		s.log.Warn().Msg("gRPC graceful shutdown timed out; forcing stop")
		s.server.Stop()
	}
}

var _ AvailabilityServer = (*AvailabilityService)(nil)
