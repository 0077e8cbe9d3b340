// Package cli implements the interactive vault shell: account commands,
// credential management and the access-request workflow on top of
// client.Client.
package cli
