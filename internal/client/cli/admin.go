package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/filex"
)

func (a *App) Pending(ctx context.Context) error {
	rs, err := a.client.ListRequests(ctx, true)
	if err != nil {
		return err
	}
	return a.printRequests(rs)
}

func (a *App) Verify(ctx context.Context, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("%w: verify <request-id> <otp>", errUsage)
	}
	ok, err := a.client.VerifyOTP(ctx, args[0], args[1])
	if err != nil {
		return err
	}
	if ok {
		fmt.Fprintln(a.out, "Code is valid")
	} else {
		fmt.Fprintln(a.out, "Code is NOT valid")
	}
	return nil
}

// Approve takes an optional six-digit code and an optional window in
// seconds, in either order.
func (a *App) Approve(ctx context.Context, args []string) error {
	if len(args) < 1 || len(args) > 3 {
		return fmt.Errorf("%w: approve <request-id> [otp] [window-seconds]", errUsage)
	}

	var (
		otp    string
		window time.Duration
	)
	for _, arg := range args[1:] {
		if len(arg) == 6 && otp == "" {
			otp = arg
			continue
		}
		n, err := strconv.Atoi(arg)
		if err != nil || n <= 0 {
			return fmt.Errorf("%w: approve <request-id> [otp] [window-seconds]", errUsage)
		}
		window = time.Duration(n) * time.Second
	}

	r, err := a.client.Approve(ctx, args[0], otp, window)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, formatRequest(r))
	return nil
}

func (a *App) Reject(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: reject <request-id> [notes]", errUsage)
	}
	r, err := a.client.Reject(ctx, args[0], strings.Join(args[1:], " "))
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, formatRequest(r))
	return nil
}

func (a *App) Stats(ctx context.Context) error {
	st, err := a.client.Stats(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Pending requests:  %d\nUsers:             %d\nCredentials:       %d\nRequests (total):  %d\n",
		st.PendingRequests, st.TotalUsers, st.TotalCredentials, st.TotalRequests)
	return nil
}

// Snapshot exports the vault to object storage. With "download" the file
// is also saved under the snapshot directory.
func (a *App) Snapshot(ctx context.Context, args []string) error {
	download := len(args) == 1 && args[0] == "download"
	if len(args) > 1 || (len(args) == 1 && !download) {
		return fmt.Errorf("%w: snapshot [download]", errUsage)
	}

	snap, err := a.client.ExportSnapshot(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Snapshot %s (%d credentials)\n%s\n", snap.Key, snap.Credentials, snap.URL)
	if !download {
		return nil
	}

	body, err := a.download(ctx, snap.URL)
	if err != nil {
		return err
	}
	dir, err := filex.EnsureSubDir(a.snapshotDir)
	if err != nil {
		return err
	}
	path, err := filex.WritePrivate(dir, snap.Key, body)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Saved to %s\n", path)
	return nil
}
