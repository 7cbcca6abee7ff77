package common

const (
	// AuthorizationHeaderName is the HTTP header and gRPC metadata key that
	// carries the bearer token on protected calls.
	AuthorizationHeaderName = "authorization"

	// BearerPrefix precedes the token inside the authorization value.
	BearerPrefix = "Bearer "
)
