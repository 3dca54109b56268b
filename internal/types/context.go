package types

import "context"

type ContextKey string

const (
	CtxRequestID ContextKey = "ctx_request_id"
	CtxUserID    ContextKey = "ctx_user_id"
	CtxActor     ContextKey = "ctx_actor"
)

// DefaultActor is recorded on audit rows written by the scheduler.
const DefaultActor = "system"

func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxRequestID).(string); ok {
		return id
	}
	return ""
}

func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(CtxUserID).(string); ok {
		return id
	}
	return ""
}

// GetActor returns the authenticated admin for manual operations, falling
// back to the user id and finally to DefaultActor.
func GetActor(ctx context.Context) string {
	if actor, ok := ctx.Value(CtxActor).(string); ok && actor != "" {
		return actor
	}
	if userID := GetUserID(ctx); userID != "" {
		return userID
	}
	return DefaultActor
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, CtxRequestID, requestID)
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, CtxUserID, userID)
}

func SetActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, CtxActor, actor)
}
