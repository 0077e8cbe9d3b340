package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound and outbound requests.
const AccessTokenHeaderName = "access_token"

// ServiceName is the fully qualified gRPC service name of the vault API.
const ServiceName = "gophvault.v1.Vault"
