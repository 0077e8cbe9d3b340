// Package grpc exposes the vault services over gRPC. Messages are
// google.protobuf.Struct values so the service needs no generated code.
package grpc

import (
	"context"
	"net"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/clock"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/services"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type UserService interface {
	Register(ctx context.Context, email, username, password string) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.TokenPair, *models.User, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	Profile(ctx context.Context, userID string) (*models.User, error)
}

type CredentialService interface {
	Create(ctx context.Context, ownerID, appName, username string, email *string, plaintext []byte) (*models.Credential, error)
	Rotate(ctx context.Context, actorID, credentialID string, newPlaintext []byte) (*models.Credential, error)
	Update(ctx context.Context, actorID, credentialID, appName, username string, email *string) (*models.Credential, error)
	ListVisible(ctx context.Context, p models.Principal) ([]*models.Credential, error)
	Delete(ctx context.Context, actorID, credentialID string) error
}

type AccessRequestService interface {
	Create(ctx context.Context, requesterID, credentialID, reason string) (*models.AccessRequest, error)
	IssueOTP(ctx context.Context, requestID string) (string, *models.AccessRequest, error)
	VerifyOTP(ctx context.Context, requestID, code string) (bool, error)
	Approve(ctx context.Context, admin models.Principal, requestID string, window time.Duration) (*models.AccessRequest, error)
	VerifyOTPAndApprove(ctx context.Context, admin models.Principal, requestID, code string, window time.Duration) (*models.AccessRequest, error)
	Reject(ctx context.Context, admin models.Principal, requestID, notes string) (*models.AccessRequest, error)
	Status(ctx context.Context, p models.Principal, requestID string) (*models.AccessRequest, error)
	ListForUser(ctx context.Context, p models.Principal) ([]*models.AccessRequest, error)
	ListPending(ctx context.Context, p models.Principal) ([]*models.AccessRequest, error)
}

type VaultService interface {
	DecryptIfAuthorized(ctx context.Context, viewer models.Principal, credentialID string) ([]byte, *models.Credential, error)
}

type StatsService interface {
	Stats(ctx context.Context, p models.Principal) (*models.Stats, error)
}

type BackupService interface {
	ExportSnapshot(ctx context.Context, p models.Principal) (*services.Snapshot, error)
}

// Services bundles what the handlers call into.
type Services struct {
	Users          UserService
	Credentials    CredentialService
	AccessRequests AccessRequestService
	Vault          VaultService
	Stats          StatsService
	Backups        BackupService
}

type GRPCServer struct {
	address   string
	svc       Services
	metrics   *metrics.Metrics
	logger    logging.Logger
	jwtSecret []byte
	clock     clock.Clock
}

// NewGRPCServer wires the handlers to svc. Tokens are checked against secretKey
// on the real clock unless WithClock says otherwise.
func NewGRPCServer(a string, l logging.Logger, m *metrics.Metrics, svc Services, secretKey string) *GRPCServer {
	return &GRPCServer{
		address:   a,
		svc:       svc,
		metrics:   m,
		logger:    l.With("module", "grpc_server"),
		jwtSecret: []byte(secretKey),
		clock:     clock.Real(),
	}
}

// WithClock sets the time source used to check token expiry. It should be
// the clock the tokens are issued with.
func (s *GRPCServer) WithClock(c clock.Clock) *GRPCServer {
	s.clock = c
	return s
}

// NewServer builds a grpc.Server with the vault and health services
// registered and the metrics and access token interceptors chained.
func (s *GRPCServer) NewServer() (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(s.metricsInterceptor, s.accessTokenInterceptor))
	srv.RegisterService(&ServiceDesc, s)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// Run serves until ctx is cancelled, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {

	// announces address
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv, hs := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", listen.Addr().String())

	// starts accepting incoming connections
	if err := srv.Serve(listen); err != nil {
		return err
	}

	return nil
}
