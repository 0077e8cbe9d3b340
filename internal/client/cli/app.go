package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/dmitrijs2005/gophvault/internal/client/client"
	"github.com/dmitrijs2005/gophvault/internal/client/config"
	"github.com/dmitrijs2005/gophvault/internal/netx"
)

type App struct {
	config   *config.Config
	client   client.Client
	userName string
	reader   *bufio.Reader
	out      io.Writer

	// download fetches a presigned snapshot URL.
	download func(ctx context.Context, url string) ([]byte, error)
	// snapshotDir is the working-directory subfolder downloads go to.
	snapshotDir string
}

// NewApp builds the CLI over a gRPC client for c.ServerEndpointAddr.
func NewApp(c *config.Config) (*App, error) {
	apiClient, err := client.NewGRPCClient(c.ServerEndpointAddr, c.RequestTimeout)
	if err != nil {
		return nil, err
	}
	return newApp(c, apiClient, os.Stdin, os.Stdout), nil
}

func newApp(c *config.Config, cl client.Client, in io.Reader, out io.Writer) *App {
	httpClient := &http.Client{Timeout: c.RequestTimeout}
	return &App{
		config: c,
		client: cl,
		reader: bufio.NewReader(in),
		out:    out,
		download: func(ctx context.Context, url string) ([]byte, error) {
			return netx.DownloadPresigned(ctx, httpClient, url)
		},
		snapshotDir: "snapshots",
	}
}

func (a *App) Run(ctx context.Context) {
	defer a.client.Close()

	fmt.Fprintln(a.out, "Welcome to GophVault CLI (type 'help' for commands)")
	if err := a.client.Ping(ctx); err != nil {
		fmt.Fprintf(a.out, "Server %s is not reachable: %v\n", a.config.ServerEndpointAddr, err)
	}

	runREPL(ctx, a, a.getStatus, bufio.NewScanner(a.reader))
}

func (a *App) isLoggedIn() bool {
	return a.userName != ""
}

func (a *App) isAdmin() bool {
	return a.client.IsAdmin()
}

func (a *App) getStatus() string {
	if a.userName == "" {
		return ""
	}
	if a.client.IsAdmin() {
		return fmt.Sprintf("(%s admin)", a.userName)
	}
	return fmt.Sprintf("(%s)", a.userName)
}
