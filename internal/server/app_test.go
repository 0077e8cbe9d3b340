package server

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/dmitrijs2005/gophvault/internal/common"
	"github.com/dmitrijs2005/gophvault/internal/logging"
	"github.com/dmitrijs2005/gophvault/internal/server/config"
	"github.com/dmitrijs2005/gophvault/internal/server/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func memoryConfig() *config.Config {
	c := &config.Config{}
	c.LoadDefaults()
	c.DatabaseDSN = config.MemoryDSN
	c.EncryptionKey = base64.StdEncoding.EncodeToString([]byte(strings.Repeat("z", 32)))
	c.MetricsAddr = ""
	return c
}

func TestNewApp_MemoryStore(t *testing.T) {
	app, err := NewApp(context.Background(), memoryConfig())
	require.NoError(t, err)
	assert.Nil(t, app.db)
	assert.NotNil(t, app.grpc)
	assert.NotNil(t, app.sweeper)
}

func TestNewApp_RejectsBadKey(t *testing.T) {
	c := memoryConfig()
	c.EncryptionKey = base64.StdEncoding.EncodeToString([]byte("short"))

	_, err := NewApp(context.Background(), c)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRun_StopsOnCancel(t *testing.T) {
	c := memoryConfig()
	c.EndpointAddrGRPC = "127.0.0.1:0"
	app, err := NewApp(context.Background(), c)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		app.Run(ctx)
		close(done)
	}()
	cancel()
	<-done
}

func TestNewNotifier(t *testing.T) {
	c := memoryConfig()
	_, ok := newNotifier(c, logging.Discard()).(*notify.Throttled)
	assert.True(t, ok)

	c.SMTPAddr = "mail:25"
	_, ok = newNotifier(c, logging.Discard()).(*notify.Throttled)
	assert.True(t, ok)
}
