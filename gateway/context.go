package gateway

import (
	"context"

	"github.com/mcpauth/authgate/auth"
)

type userCtxKey struct{}

func withUser(ctx context.Context, ui auth.UserInfo) context.Context {
	return context.WithValue(ctx, userCtxKey{}, ui)
}

// UserFromContext returns the validated caller identity attached to a tool
// call context. ok is false for anonymous calls, which is the normal state
// for open tools and for optional tools invoked without a credential.
func UserFromContext(ctx context.Context) (auth.UserInfo, bool) {
	ui, ok := ctx.Value(userCtxKey{}).(auth.UserInfo)
	return ui, ok
}
