package cli

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dmitrijs2005/gophvault/internal/client/client"
)

func formatRequest(r client.AccessRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request %s for credential %s: %s", r.ID, r.CredentialID, r.Status)
	switch {
	case r.Status == "approved" && r.ExpiresAt != nil:
		fmt.Fprintf(&b, " until %s", r.ExpiresAt.Local().Format(time.TimeOnly))
	case r.Status == "otp_sent" && r.OTPExpiresAt != nil:
		fmt.Fprintf(&b, ", code valid until %s", r.OTPExpiresAt.Local().Format(time.TimeOnly))
	}
	if r.AdminNotes != "" {
		fmt.Fprintf(&b, " (%s)", r.AdminNotes)
	}
	return b.String()
}

func (a *App) printRequests(rs []client.AccessRequest) error {
	if len(rs) == 0 {
		fmt.Fprintln(a.out, "No requests")
		return nil
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREDENTIAL\tREQUESTER\tSTATUS\tREQUESTED\tREASON")
	for _, r := range rs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.CredentialID, r.RequesterID, r.Status,
			r.RequestedAt.Local().Format(time.DateTime), r.Reason)
	}
	return tw.Flush()
}

// Request asks for temporary access to someone else's credential.
func (a *App) Request(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("%w: request <credential-id> [reason]", errUsage)
	}

	reason := strings.Join(args[1:], " ")
	if reason == "" {
		var err error
		if reason, err = getSimpleText(a.reader, "Reason (optional)", a.out); err != nil {
			return err
		}
	}

	r, err := a.client.RequestAccess(ctx, args[0], reason)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, formatRequest(r))
	fmt.Fprintf(a.out, "Run 'otp %s' to send a code to the administrators\n", r.ID)
	return nil
}

func (a *App) IssueOTP(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: otp <request-id>", errUsage)
	}
	r, err := a.client.IssueOTP(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, "A one-time code was sent to the administrators")
	fmt.Fprintln(a.out, formatRequest(r))
	return nil
}

func (a *App) Status(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: status <request-id>", errUsage)
	}
	r, err := a.client.Status(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, formatRequest(r))
	return nil
}

func (a *App) Requests(ctx context.Context) error {
	rs, err := a.client.ListRequests(ctx, false)
	if err != nil {
		return err
	}
	return a.printRequests(rs)
}
