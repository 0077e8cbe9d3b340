package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type GRPCClient struct {
	endpointURL string
	timeout     time.Duration
	conn        *grpc.ClientConn
	cc          grpc.ClientConnInterface

	mu           sync.RWMutex
	accessToken  string
	refreshToken string
	isAdmin      bool
}

var _ Client = (*GRPCClient)(nil)

func fullMethod(name string) string {
	return "/" + common.ServiceName + "/" + name
}

func withAccessToken(ctx context.Context, token string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	if md == nil {
		md = metadata.MD{}
	}
	md.Delete(common.AccessTokenHeaderName)
	if token != "" {
		md.Set(common.AccessTokenHeaderName, token)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

func (s *GRPCClient) tokens() (string, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.accessToken, s.refreshToken
}

func (s *GRPCClient) setTokens(access, refresh string) {
	s.mu.Lock()
	s.accessToken, s.refreshToken = access, refresh
	s.mu.Unlock()
}

// accessTokenInterceptor attaches the access token and, when the server
// says it has expired, refreshes the pair once and retries the call.
func (s *GRPCClient) accessTokenInterceptor(
	ctx context.Context,
	method string,
	req, reply interface{},
	cc *grpc.ClientConn,
	invoker grpc.UnaryInvoker,
	opts ...grpc.CallOption,
) error {

	access, refresh := s.tokens()
	err := invoker(withAccessToken(ctx, access), method, req, reply, cc, opts...)
	if err == nil {
		return nil
	}

	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated || st.Message() != common.ErrTokenExpired.Error() {
		return err
	}
	if refresh == "" {
		return err
	}

	in, err2 := structpb.NewStruct(map[string]any{"refresh_token": refresh})
	if err2 != nil {
		return err
	}
	out := &structpb.Struct{}
	if err2 := invoker(ctx, fullMethod("RefreshToken"), in, out, cc, opts...); err2 != nil {
		return err2
	}

	m := out.AsMap()
	s.setTokens(getString(m, "access_token"), getString(m, "refresh_token"))

	return invoker(withAccessToken(ctx, getString(m, "access_token")), method, req, reply, cc, opts...)
}

// NewGRPCClient dials endpointURL lazily. Every call is bounded by timeout
// and retried once after a token refresh.
func NewGRPCClient(endpointURL string, timeout time.Duration) (*GRPCClient, error) {
	c := &GRPCClient{endpointURL: endpointURL, timeout: timeout}
	conn, err := grpc.NewClient(endpointURL,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithUnaryInterceptor(c.accessTokenInterceptor))
	if err != nil {
		return nil, err
	}
	c.conn = conn
	c.cc = conn
	return c, nil
}

func (s *GRPCClient) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *GRPCClient) call(ctx context.Context, name string, in map[string]any) (map[string]any, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	out := &structpb.Struct{}
	if err := s.cc.Invoke(ctx, fullMethod(name), req, out); err != nil {
		return nil, s.mapError(err)
	}
	return out.AsMap(), nil
}

func (s *GRPCClient) mapError(err error) error {
	if err == nil {
		return nil
	}
	st, _ := status.FromError(err)
	switch st.Code() {
	case codes.Unauthenticated:
		return ErrUnauthorized
	case codes.PermissionDenied:
		return ErrForbidden
	case codes.NotFound:
		return ErrNotFound
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %s", ErrAlreadyExists, st.Message())
	case codes.Unavailable, codes.DeadlineExceeded:
		return ErrUnavailable
	case codes.InvalidArgument, codes.FailedPrecondition, codes.Aborted:
		return fmt.Errorf("%s", st.Message())
	default:
		return fmt.Errorf("rpc error: %w", err)
	}
}

func (s *GRPCClient) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAdmin
}

func (s *GRPCClient) Ping(ctx context.Context) error {
	resp, err := s.call(ctx, "Ping", nil)
	if err != nil {
		return err
	}
	if getString(resp, "status") != "OK" {
		return ErrUnavailable
	}
	return nil
}

func (s *GRPCClient) Register(ctx context.Context, email, username string, password []byte) error {
	_, err := s.call(ctx, "Register", map[string]any{
		"email":    email,
		"username": username,
		"password": string(password),
	})
	return err
}

func (s *GRPCClient) Login(ctx context.Context, email string, password []byte) error {
	resp, err := s.call(ctx, "Login", map[string]any{"email": email, "password": string(password)})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.accessToken = getString(resp, "access_token")
	s.refreshToken = getString(resp, "refresh_token")
	s.isAdmin, _ = resp["is_admin"].(bool)
	s.mu.Unlock()
	return nil
}

func (s *GRPCClient) Logout() {
	s.mu.Lock()
	s.accessToken, s.refreshToken, s.isAdmin = "", "", false
	s.mu.Unlock()
}

func (s *GRPCClient) Profile(ctx context.Context) (Profile, error) {
	resp, err := s.call(ctx, "Profile", nil)
	if err != nil {
		return Profile{}, err
	}
	return profileFrom(resp), nil
}

func (s *GRPCClient) ListCredentials(ctx context.Context) ([]Credential, error) {
	resp, err := s.call(ctx, "ListCredentials", nil)
	if err != nil {
		return nil, err
	}
	return list(resp, "credentials", credentialFrom), nil
}

func (s *GRPCClient) CreateCredential(ctx context.Context, app, username, email string, secret []byte) (Credential, error) {
	in := map[string]any{
		"application_name": app,
		"username":         username,
		"secret":           string(secret),
	}
	if email != "" {
		in["email"] = email
	}
	resp, err := s.call(ctx, "CreateCredential", in)
	if err != nil {
		return Credential{}, err
	}
	return credentialFrom(resp), nil
}

func (s *GRPCClient) RotateCredential(ctx context.Context, id string, secret []byte) error {
	_, err := s.call(ctx, "RotateCredential", map[string]any{"credential_id": id, "secret": string(secret)})
	return err
}

// UpdateCredential edits the descriptive fields. An empty email clears it.
func (s *GRPCClient) UpdateCredential(ctx context.Context, id, app, username, email string) (Credential, error) {
	in := map[string]any{
		"credential_id":    id,
		"application_name": app,
		"username":         username,
		"email":            nil,
	}
	if email != "" {
		in["email"] = email
	}
	resp, err := s.call(ctx, "UpdateCredential", in)
	if err != nil {
		return Credential{}, err
	}
	return credentialFrom(resp), nil
}

func (s *GRPCClient) DeleteCredential(ctx context.Context, id string) error {
	_, err := s.call(ctx, "DeleteCredential", map[string]any{"credential_id": id})
	return err
}

// Decrypt returns the credential with its secret. Callers should wipe the
// secret when done.
func (s *GRPCClient) Decrypt(ctx context.Context, id string) (Credential, []byte, error) {
	resp, err := s.call(ctx, "DecryptCredential", map[string]any{"credential_id": id})
	if err != nil {
		return Credential{}, nil, err
	}
	cm, _ := resp["credential"].(map[string]any)
	return credentialFrom(cm), []byte(getString(resp, "secret")), nil
}

func (s *GRPCClient) requestCall(ctx context.Context, name string, in map[string]any) (AccessRequest, error) {
	resp, err := s.call(ctx, name, in)
	if err != nil {
		return AccessRequest{}, err
	}
	return requestFrom(resp), nil
}

func (s *GRPCClient) RequestAccess(ctx context.Context, credentialID, reason string) (AccessRequest, error) {
	return s.requestCall(ctx, "CreateAccessRequest", map[string]any{"credential_id": credentialID, "reason": reason})
}

func (s *GRPCClient) IssueOTP(ctx context.Context, requestID string) (AccessRequest, error) {
	return s.requestCall(ctx, "IssueOTP", map[string]any{"request_id": requestID})
}

func (s *GRPCClient) VerifyOTP(ctx context.Context, requestID, otp string) (bool, error) {
	resp, err := s.call(ctx, "VerifyOTP", map[string]any{"request_id": requestID, "otp": otp})
	if err != nil {
		return false, err
	}
	ok, _ := resp["valid"].(bool)
	return ok, nil
}

// Approve approves a request. A non-empty otp is checked in the same step;
// a zero window leaves the server default.
func (s *GRPCClient) Approve(ctx context.Context, requestID, otp string, window time.Duration) (AccessRequest, error) {
	in := map[string]any{"request_id": requestID}
	if otp != "" {
		in["otp"] = otp
	}
	if window > 0 {
		in["window_seconds"] = window.Seconds()
	}
	return s.requestCall(ctx, "Approve", in)
}

func (s *GRPCClient) Reject(ctx context.Context, requestID, notes string) (AccessRequest, error) {
	return s.requestCall(ctx, "Reject", map[string]any{"request_id": requestID, "notes": notes})
}

func (s *GRPCClient) Status(ctx context.Context, requestID string) (AccessRequest, error) {
	return s.requestCall(ctx, "CheckStatus", map[string]any{"request_id": requestID})
}

func (s *GRPCClient) ListRequests(ctx context.Context, pendingOnly bool) ([]AccessRequest, error) {
	method := "ListAccessRequests"
	if pendingOnly {
		method = "ListPendingRequests"
	}
	resp, err := s.call(ctx, method, nil)
	if err != nil {
		return nil, err
	}
	return list(resp, "requests", requestFrom), nil
}

func (s *GRPCClient) Stats(ctx context.Context) (Stats, error) {
	resp, err := s.call(ctx, "Stats", nil)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		PendingRequests:  getInt(resp, "pending_requests"),
		TotalUsers:       getInt(resp, "total_users"),
		TotalCredentials: getInt(resp, "total_credentials"),
		TotalRequests:    getInt(resp, "total_requests"),
	}, nil
}

func (s *GRPCClient) ExportSnapshot(ctx context.Context) (Snapshot, error) {
	resp, err := s.call(ctx, "ExportSnapshot", nil)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{
		Key:         getString(resp, "key"),
		URL:         getString(resp, "url"),
		Credentials: int(getInt(resp, "credentials")),
	}, nil
}
