package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dmitrijs2005/gophvault/internal/common"
)

func (a *App) List(ctx context.Context) error {
	cs, err := a.client.ListCredentials(ctx)
	if err != nil {
		return err
	}
	if len(cs) == 0 {
		fmt.Fprintln(a.out, "No credentials")
		return nil
	}

	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tAPPLICATION\tUSERNAME\tEMAIL\tOWNER")
	for _, c := range cs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.ID, c.ApplicationName, c.Username, c.Email, c.OwnerID)
	}
	return tw.Flush()
}

func (a *App) Add(ctx context.Context) error {
	app, err := getSimpleText(a.reader, "Application name", a.out)
	if err != nil {
		return err
	}
	username, err := getSimpleText(a.reader, "Username", a.out)
	if err != nil {
		return err
	}
	email, err := getSimpleText(a.reader, "Email (optional)", a.out)
	if err != nil {
		return err
	}

	secret, err := getHidden(a.out, "Enter secret: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	c, err := a.client.CreateCredential(ctx, app, username, email, secret)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Credential %s stored\n", c.ID)
	return nil
}

func (a *App) Rotate(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: rotate <credential-id>", errUsage)
	}

	secret, err := getHidden(a.out, "Enter new secret: ")
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	if err := a.client.RotateCredential(ctx, args[0], secret); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Secret rotated")
	return nil
}

// Edit changes the application name, username and email of a credential.
// The secret stays as it is.
func (a *App) Edit(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: edit <credential-id>", errUsage)
	}

	app, err := getSimpleText(a.reader, "Application name", a.out)
	if err != nil {
		return err
	}
	username, err := getSimpleText(a.reader, "Username", a.out)
	if err != nil {
		return err
	}
	email, err := getSimpleText(a.reader, "Email (optional)", a.out)
	if err != nil {
		return err
	}

	c, err := a.client.UpdateCredential(ctx, args[0], app, username, email)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Credential %s updated\n", c.ID)
	return nil
}

func (a *App) Delete(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: delete <credential-id>", errUsage)
	}
	if err := a.client.DeleteCredential(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Deleted")
	return nil
}

// Show prints a decrypted credential. The server only answers for owners,
// admins and requesters inside an approved window.
func (a *App) Show(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("%w: show <credential-id>", errUsage)
	}

	c, secret, err := a.client.Decrypt(ctx, args[0])
	if err != nil {
		return err
	}
	defer common.WipeByteArray(secret)

	fmt.Fprintf(a.out, "Application: %s\nUsername:    %s\n", c.ApplicationName, c.Username)
	if c.Email != "" {
		fmt.Fprintf(a.out, "Email:       %s\n", c.Email)
	}
	fmt.Fprintf(a.out, "Secret:      %s\n", secret)
	return nil
}
