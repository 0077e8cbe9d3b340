// Package client talks to the vault server over gRPC.
//
// GRPCClient keeps the access and refresh tokens returned by Login, attaches
// the access token to every call through a unary interceptor and refreshes
// it once when the server reports it expired. gRPC status codes are mapped
// to the sentinel errors in errors.go so callers can use errors.Is.
package client
