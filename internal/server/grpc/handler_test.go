package grpc

import (
	"context"
	"encoding/base64"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/clock"
	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/notify"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/gophvault/internal/server/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

var otpPattern = regexp.MustCompile(`Your OTP code is: (\d{6})`)

// otpCatcher keeps the last code mailed to admins.
type otpCatcher struct {
	mu   sync.Mutex
	last string
}

func (c *otpCatcher) Notify(_ context.Context, msg notify.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if m := otpPattern.FindStringSubmatch(msg.Body); m != nil {
		c.last = m[1]
	}
	return nil
}

func (c *otpCatcher) code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type fakeBackups struct {
	snap *services.Snapshot
	err  error
}

func (f *fakeBackups) ExportSnapshot(_ context.Context, p models.Principal) (*services.Snapshot, error) {
	if !p.IsAdmin {
		return nil, common.ErrNotAuthorized
	}
	return f.snap, f.err
}

type harness struct {
	clock    *clock.FakeClock
	otp      *otpCatcher
	metrics  *metrics.Metrics
	backups  *fakeBackups
	conn     *grpc.ClientConn
	cfg      *config.Config
	adminCtx context.Context
	ownerCtx context.Context
	otherCtx context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.EncryptionKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	cfg.BootstrapAdmins = []string{"admin@vault.io"}
	key, err := cfg.Key()
	require.NoError(t, err)
	cipher, err := cryptox.NewCipher(key)
	require.NoError(t, err)

	h := &harness{
		clock:   clock.Fake(time.Now().UTC()),
		otp:     &otpCatcher{},
		metrics: metrics.New(),
		backups: &fakeBackups{},
		cfg:     cfg,
	}
	log := logging.Discard()
	rm := repomanager.NewMemoryRepositoryManager()

	creds := services.NewCredentialService(nil, rm, cipher, h.clock, log)
	requests := services.NewAccessRequestService(nil, rm, h.clock, h.otp, h.metrics, log, services.SettingsFromConfig(cfg))
	svc := Services{
		Users:          services.NewUserService(nil, rm, h.clock, cfg),
		Credentials:    creds,
		AccessRequests: requests,
		Vault:          services.NewVaultService(creds, services.NewPolicy(requests), h.metrics, log),
		Stats:          services.NewStatsService(nil, rm),
		Backups:        h.backups,
	}

	gs, _ := NewGRPCServer("bufnet", nopLogger{}, h.metrics, svc, cfg.SecretKey).WithClock(h.clock).NewServer()
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()
	t.Cleanup(gs.Stop)

	h.conn, err = grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.conn.Close() })

	h.ownerCtx = h.signup(t, "owner@vault.io", "owner")
	h.adminCtx = h.signup(t, "admin@vault.io", "admin")
	h.otherCtx = h.signup(t, "other@vault.io", "other")
	return h
}

func (h *harness) call(ctx context.Context, method string, in map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(in)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := h.conn.Invoke(ctx, FullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *harness) mustCall(t *testing.T, ctx context.Context, method string, in map[string]any) map[string]any {
	t.Helper()
	out, err := h.call(ctx, method, in)
	require.NoError(t, err, method)
	return out.AsMap()
}

// signup registers and logs in, returning a context carrying the token.
func (h *harness) signup(t *testing.T, email, name string) context.Context {
	t.Helper()
	ctx := context.Background()
	h.mustCall(t, ctx, "Register", map[string]any{"email": email, "username": name, "password": "correct horse"})
	tok := h.mustCall(t, ctx, "Login", map[string]any{"email": email, "password": "correct horse"})
	return metadata.AppendToOutgoingContext(ctx, common.AccessTokenHeaderName, tok["access_token"].(string))
}

func scrape(t *testing.T, m *metrics.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	b, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(b)
}

func contains(s, sub string) bool { return strings.Contains(s, sub) }

func assertCode(t *testing.T, want codes.Code, err error) {
	t.Helper()
	assert.Equal(t, want, status.Code(err), "error: %v", err)
}

func TestPingAndHealth(t *testing.T) {
	h := newHarness(t)

	out := h.mustCall(t, context.Background(), "Ping", map[string]any{})
	assert.Equal(t, "OK", out["status"])

	resp, err := healthpb.NewHealthClient(h.conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestAuthFlow(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.call(ctx, "Register", map[string]any{"email": "owner@vault.io", "username": "x", "password": "correct horse"})
	assertCode(t, codes.AlreadyExists, err)
	_, err = h.call(ctx, "Register", map[string]any{"email": "new@vault.io", "username": "new", "password": "short"})
	assertCode(t, codes.InvalidArgument, err)
	_, err = h.call(ctx, "Register", map[string]any{"email": "new@vault.io"})
	assertCode(t, codes.InvalidArgument, err)

	_, err = h.call(ctx, "Login", map[string]any{"email": "owner@vault.io", "password": "wrong password"})
	assertCode(t, codes.Unauthenticated, err)

	tok := h.mustCall(t, ctx, "Login", map[string]any{"email": "admin@vault.io", "password": "correct horse"})
	assert.Equal(t, true, tok["is_admin"])

	next := h.mustCall(t, ctx, "RefreshToken", map[string]any{"refresh_token": tok["refresh_token"]})
	assert.NotEqual(t, tok["refresh_token"], next["refresh_token"])
	_, err = h.call(ctx, "RefreshToken", map[string]any{"refresh_token": tok["refresh_token"]})
	assertCode(t, codes.Unauthenticated, err)

	_, err = h.call(ctx, "ListCredentials", map[string]any{})
	assertCode(t, codes.Unauthenticated, err)
}

func TestProfile(t *testing.T) {
	h := newHarness(t)

	me := h.mustCall(t, h.ownerCtx, "Profile", map[string]any{})
	assert.Equal(t, "owner@vault.io", me["email"])
	assert.Equal(t, "owner", me["username"])
	assert.Equal(t, false, me["is_admin"])
	assert.NotEmpty(t, me["user_id"])
	assert.NotNil(t, me["created_at"])

	admin := h.mustCall(t, h.adminCtx, "Profile", map[string]any{})
	assert.Equal(t, true, admin["is_admin"])

	_, err := h.call(context.Background(), "Profile", map[string]any{})
	assertCode(t, codes.Unauthenticated, err)
}

func TestUpdateCredential(t *testing.T) {
	h := newHarness(t)
	cred := h.mustCall(t, h.ownerCtx, "CreateCredential", map[string]any{
		"application_name": "jira", "username": "svc", "email": "svc@vault.io", "secret": "pw",
	})
	id := cred["id"]

	_, err := h.call(h.ownerCtx, "UpdateCredential", map[string]any{"application_name": "x", "username": "y"})
	assertCode(t, codes.InvalidArgument, err)
	_, err = h.call(h.adminCtx, "UpdateCredential", map[string]any{"credential_id": id, "application_name": "x", "username": "y"})
	assertCode(t, codes.PermissionDenied, err)
	_, err = h.call(h.ownerCtx, "UpdateCredential", map[string]any{"credential_id": id, "application_name": "Bank\r\nBcc: x@evil.io", "username": "y"})
	assertCode(t, codes.InvalidArgument, err)

	h.clock.Advance(time.Second)
	updated := h.mustCall(t, h.ownerCtx, "UpdateCredential", map[string]any{
		"credential_id": id, "application_name": "confluence", "username": "bot", "email": nil,
	})
	assert.Equal(t, "confluence", updated["application_name"])
	assert.Equal(t, "bot", updated["username"])
	assert.Nil(t, updated["email"])
	assert.NotEqual(t, cred["updated_at"], updated["updated_at"])

	plain := h.mustCall(t, h.ownerCtx, "DecryptCredential", map[string]any{"credential_id": id})
	assert.Equal(t, "pw", plain["secret"])
}

// Owner stores a secret, an admin requests access, the OTP goes to admins,
// the admin approves with it and may decrypt until the window closes.
func TestApprovalFlow(t *testing.T) {
	h := newHarness(t)

	cred := h.mustCall(t, h.ownerCtx, "CreateCredential", map[string]any{
		"application_name": "github", "username": "deploy-bot", "email": "bot@vault.io", "secret": "hunter2",
	})
	credID := cred["id"].(string)
	assert.NotContains(t, cred, "ciphertext")
	assert.Equal(t, "bot@vault.io", cred["email"])

	plain := h.mustCall(t, h.ownerCtx, "DecryptCredential", map[string]any{"credential_id": credID})
	assert.Equal(t, "hunter2", plain["secret"])

	_, err := h.call(h.adminCtx, "DecryptCredential", map[string]any{"credential_id": credID})
	assertCode(t, codes.PermissionDenied, err)

	listed := h.mustCall(t, h.adminCtx, "ListCredentials", map[string]any{})
	assert.Len(t, listed["credentials"], 1)

	req := h.mustCall(t, h.adminCtx, "CreateAccessRequest", map[string]any{"credential_id": credID, "reason": "incident"})
	reqID := req["id"].(string)
	assert.Equal(t, "pending", req["status"])

	_, err = h.call(h.adminCtx, "CreateAccessRequest", map[string]any{"credential_id": credID})
	assertCode(t, codes.AlreadyExists, err)

	_, err = h.call(h.adminCtx, "Approve", map[string]any{"request_id": reqID})
	assertCode(t, codes.PermissionDenied, err)

	_, err = h.call(h.otherCtx, "IssueOTP", map[string]any{"request_id": reqID})
	assertCode(t, codes.PermissionDenied, err)

	issued := h.mustCall(t, h.adminCtx, "IssueOTP", map[string]any{"request_id": reqID})
	assert.Equal(t, "otp_sent", issued["status"])
	assert.NotContains(t, issued, "otp")
	code := h.otp.code()
	require.Len(t, code, 6)

	valid := h.mustCall(t, h.adminCtx, "VerifyOTP", map[string]any{"request_id": reqID, "otp": code})
	assert.Equal(t, true, valid["valid"])
	_, err = h.call(h.otherCtx, "VerifyOTP", map[string]any{"request_id": reqID, "otp": code})
	assertCode(t, codes.PermissionDenied, err)

	_, err = h.call(h.otherCtx, "Approve", map[string]any{"request_id": reqID})
	assertCode(t, codes.PermissionDenied, err)

	bad := "000000"
	if code == bad {
		bad = "111111"
	}
	_, err = h.call(h.adminCtx, "Approve", map[string]any{"request_id": reqID, "otp": bad})
	assertCode(t, codes.InvalidArgument, err)

	approved := h.mustCall(t, h.adminCtx, "Approve", map[string]any{"request_id": reqID, "otp": code, "window_seconds": 30})
	assert.Equal(t, "approved", approved["status"])
	assert.NotNil(t, approved["expires_at"])

	plain = h.mustCall(t, h.adminCtx, "DecryptCredential", map[string]any{"credential_id": credID})
	assert.Equal(t, "hunter2", plain["secret"])

	h.clock.Advance(31 * time.Second)
	_, err = h.call(h.adminCtx, "DecryptCredential", map[string]any{"credential_id": credID})
	assertCode(t, codes.PermissionDenied, err)

	st := h.mustCall(t, h.adminCtx, "CheckStatus", map[string]any{"request_id": reqID})
	assert.Equal(t, "expired", st["status"])

	_, err = h.call(h.adminCtx, "Reject", map[string]any{"request_id": reqID})
	assertCode(t, codes.FailedPrecondition, err)
}

func TestRejectAndLists(t *testing.T) {
	h := newHarness(t)

	cred := h.mustCall(t, h.ownerCtx, "CreateCredential", map[string]any{
		"application_name": "jira", "username": "svc", "secret": "pw",
	})
	req := h.mustCall(t, h.otherCtx, "CreateAccessRequest", map[string]any{"credential_id": cred["id"]})

	pending := h.mustCall(t, h.adminCtx, "ListPendingRequests", map[string]any{})
	assert.Len(t, pending["requests"], 1)

	rejected := h.mustCall(t, h.adminCtx, "Reject", map[string]any{"request_id": req["id"], "notes": "policy violation"})
	assert.Equal(t, "rejected", rejected["status"])
	assert.Equal(t, "policy violation", rejected["admin_notes"])

	_, err := h.call(h.adminCtx, "Approve", map[string]any{"request_id": req["id"]})
	assertCode(t, codes.FailedPrecondition, err)

	mine := h.mustCall(t, h.otherCtx, "ListAccessRequests", map[string]any{})
	assert.Len(t, mine["requests"], 1)
	none := h.mustCall(t, h.ownerCtx, "ListAccessRequests", map[string]any{})
	assert.Empty(t, none["requests"])

	_, err = h.call(h.ownerCtx, "CheckStatus", map[string]any{"request_id": req["id"]})
	assertCode(t, codes.PermissionDenied, err)
	_, err = h.call(h.adminCtx, "CheckStatus", map[string]any{"request_id": "missing"})
	assertCode(t, codes.NotFound, err)
}

func TestCredentialRotateAndDelete(t *testing.T) {
	h := newHarness(t)

	cred := h.mustCall(t, h.ownerCtx, "CreateCredential", map[string]any{
		"application_name": "aws", "username": "root", "secret": "v1",
	})
	id := cred["id"]

	_, err := h.call(h.adminCtx, "RotateCredential", map[string]any{"credential_id": id, "secret": "v2"})
	assertCode(t, codes.PermissionDenied, err)
	h.mustCall(t, h.ownerCtx, "RotateCredential", map[string]any{"credential_id": id, "secret": "v2"})

	plain := h.mustCall(t, h.ownerCtx, "DecryptCredential", map[string]any{"credential_id": id})
	assert.Equal(t, "v2", plain["secret"])

	_, err = h.call(h.ownerCtx, "CreateCredential", map[string]any{"application_name": "", "username": "u", "secret": "s"})
	assertCode(t, codes.InvalidArgument, err)

	h.mustCall(t, h.ownerCtx, "DeleteCredential", map[string]any{"credential_id": id})
	_, err = h.call(h.ownerCtx, "DecryptCredential", map[string]any{"credential_id": id})
	assertCode(t, codes.PermissionDenied, err)
}

func TestStatsAndSnapshot(t *testing.T) {
	h := newHarness(t)
	taken := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)
	h.backups.snap = &services.Snapshot{Key: "snapshots/k.json", URL: "https://s3/x", Credentials: 0, TakenAt: taken}

	st := h.mustCall(t, h.adminCtx, "Stats", map[string]any{})
	assert.Equal(t, float64(3), st["total_users"])
	assert.Equal(t, float64(0), st["pending_requests"])

	_, err := h.call(h.ownerCtx, "Stats", map[string]any{})
	assertCode(t, codes.PermissionDenied, err)

	snap := h.mustCall(t, h.adminCtx, "ExportSnapshot", map[string]any{})
	assert.Equal(t, "https://s3/x", snap["url"])
	assert.Equal(t, "2026-04-01T10:00:00Z", snap["taken_at"])

	_, err = h.call(h.otherCtx, "ExportSnapshot", map[string]any{})
	assertCode(t, codes.PermissionDenied, err)

	h.backups.err = io.ErrUnexpectedEOF
	_, err = h.call(h.adminCtx, "ExportSnapshot", map[string]any{})
	assertCode(t, codes.Internal, err)
	assert.Equal(t, "internal error", status.Convert(err).Message())

	assert.Contains(t, scrape(t, h.metrics), `method="/gophvault.v1.Vault/ExportSnapshot"`)
}
