package services

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/clock"
	"github.com/dmitrijs2005/gophvault/internal/cryptox"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/metrics"
	"github.com/dmitrijs2005/gophvault/internal/server/models"
	"github.com/dmitrijs2005/gophvault/internal/server/notify"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

type recordingNotifier struct {
	mu    sync.Mutex
	sent  []notify.Message
	err   error
	block bool
}

func (n *recordingNotifier) Notify(ctx context.Context, msg notify.Message) error {
	if n.block {
		<-ctx.Done()
		return ctx.Err()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, msg)
	return nil
}

func (n *recordingNotifier) messages() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.sent...)
}

// env wires every service over the in-memory repositories and a fake clock.
type env struct {
	clock    *clock.FakeClock
	rm       repomanager.RepositoryManager
	notifier *recordingNotifier
	metrics  *metrics.Metrics
	cfg      *config.Config

	users       *UserService
	credentials *CredentialService
	requests    *AccessRequestService
	policy      *Policy
	vault       *VaultService
	stats       *StatsService

	owner models.Principal
	admin models.Principal
	other models.Principal
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.EncryptionKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("x", 32)))
	cfg.BootstrapAdmins = []string{"admin@vault.io"}

	key, err := cfg.Key()
	require.NoError(t, err)
	cipher, err := cryptox.NewCipher(key)
	require.NoError(t, err)

	e := &env{
		clock:    clock.Fake(t0),
		rm:       repomanager.NewMemoryRepositoryManager(),
		notifier: &recordingNotifier{},
		metrics:  metrics.New(),
		cfg:      cfg,
	}
	log := logging.Discard()

	e.users = NewUserService(nil, e.rm, e.clock, cfg)
	e.credentials = NewCredentialService(nil, e.rm, cipher, e.clock, log)
	e.requests = NewAccessRequestService(nil, e.rm, e.clock, e.notifier, e.metrics, log, SettingsFromConfig(cfg))
	e.policy = NewPolicy(e.requests)
	e.vault = NewVaultService(e.credentials, e.policy, e.metrics, log)
	e.stats = NewStatsService(nil, e.rm)

	e.owner = e.register(t, "owner@vault.io", "owner")
	e.admin = e.register(t, "admin@vault.io", "admin")
	e.other = e.register(t, "other@vault.io", "other")
	return e
}

func (e *env) register(t *testing.T, email, name string) models.Principal {
	t.Helper()
	u, err := e.users.Register(context.Background(), email, name, "correct horse")
	require.NoError(t, err)
	return models.Principal{UserID: u.ID, IsAdmin: u.IsAdmin}
}

func (e *env) credential(t *testing.T, secret string) *models.Credential {
	t.Helper()
	c, err := e.credentials.Create(context.Background(), e.owner.UserID, "github", "deploy-bot", nil, []byte(secret))
	require.NoError(t, err)
	return c
}

// stored reads the request straight from storage, skipping lazy expiry.
func (e *env) stored(ctx context.Context, id string) (*models.AccessRequest, error) {
	return e.rm.AccessRequests(nil).GetByID(ctx, id)
}

// grant walks a request through create, OTP and approval for the admin.
func (e *env) grant(t *testing.T, c *models.Credential, window time.Duration) *models.AccessRequest {
	t.Helper()
	ctx := context.Background()

	req, err := e.requests.Create(ctx, e.admin.UserID, c.ID, "incident")
	require.NoError(t, err)
	code, _, err := e.requests.IssueOTP(ctx, req.ID)
	require.NoError(t, err)
	req, err = e.requests.VerifyOTPAndApprove(ctx, e.admin, req.ID, code, window)
	require.NoError(t, err)
	return req
}

// scrape renders the metrics registry in the text exposition format.
func (e *env) scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	e.metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}
