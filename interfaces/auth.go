package interfaces

import (
	"context"
	"time"
)

// AuthMethod identifies how a caller was authenticated.
type AuthMethod string

const (
	AuthMethodRootToken AuthMethod = "root_token"
	AuthMethodLocal     AuthMethod = "local"
)

// AuthContext describes an authenticated caller.
type AuthContext struct {
	AccountID   string     `json:"account_id"`
	DisplayName string     `json:"display_name,omitempty"`
	Method      AuthMethod `json:"auth_method"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// RootAuthContext returns the context for a caller presenting the root token.
func RootAuthContext() AuthContext {
	return AuthContext{
		AccountID:   "root",
		DisplayName: "Root",
		Method:      AuthMethodRootToken,
	}
}

// IsRoot reports whether the caller authenticated with the root token.
func (a AuthContext) IsRoot() bool {
	return a.Method == AuthMethodRootToken && a.AccountID == "root"
}

// Authenticator resolves a bearer token into an AuthContext.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (AuthContext, error)
}

type authContextKey struct{}

// WithAuthContext attaches an authenticated caller to ctx.
func WithAuthContext(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// AuthContextFrom returns the caller attached to ctx, if any.
func AuthContextFrom(ctx context.Context) (AuthContext, bool) {
	auth, ok := ctx.Value(authContextKey{}).(AuthContext)
	return auth, ok
}

// Operation names a key store or envelope operation. Values double as metric
// labels and event names.
type Operation string

const (
	OpCreateKey       Operation = "create_key"
	OpRotateKey       Operation = "rotate_key"
	OpUpdateKeyConfig Operation = "update_key_config"
	OpDeleteKey       Operation = "delete_key"
	OpUndeleteKey     Operation = "undelete_key"
	OpDestroyVersion  Operation = "destroy_version"
	OpExport          Operation = "export"
	OpGetKeyInfo      Operation = "get_key_info"
	OpListKeys        Operation = "list_keys"
	OpEncrypt         Operation = "encrypt"
	OpDecrypt         Operation = "decrypt"
	OpRewrap          Operation = "rewrap"
	OpSign            Operation = "sign"
	OpVerify          Operation = "verify"
	OpGenerateDatakey Operation = "generate_datakey"
)

// Authorizer is consulted before every operation. A non-nil error denies it.
type Authorizer func(ctx context.Context, op Operation, keyName string) error

// Event is emitted after every operation, successful or not.
type Event struct {
	Operation  Operation     `json:"operation"`
	KeyName    string        `json:"key_name,omitempty"`
	KeyVersion int           `json:"key_version,omitempty"`
	Outcome    string        `json:"outcome"`
	ErrorKind  string        `json:"error_kind,omitempty"`
	AccountID  string        `json:"account_id,omitempty"`
	Duration   time.Duration `json:"duration"`
	Time       time.Time     `json:"time"`
}

// EventSink receives operation events. It must not block.
type EventSink func(ctx context.Context, ev Event)
