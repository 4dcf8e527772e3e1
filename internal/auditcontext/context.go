// Package auditcontext carries request-scoped actor and client details that
// the audit service attaches to every entry.
package auditcontext

import "context"

type keyType string

const (
	actorTypeKey keyType = "audit_actor_type"
	actorIDKey   keyType = "audit_actor_id"
	requestIDKey keyType = "audit_request_id"
	ipAddressKey keyType = "audit_ip_address"
	userAgentKey keyType = "audit_user_agent"
)

func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	ctx = context.WithValue(ctx, actorTypeKey, actorType)
	return context.WithValue(ctx, actorIDKey, actorID)
}

func ActorFromContext(ctx context.Context) (string, string) {
	return stringValue(ctx, actorTypeKey), stringValue(ctx, actorIDKey)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

func WithClient(ctx context.Context, ipAddress, userAgent string) context.Context {
	ctx = context.WithValue(ctx, ipAddressKey, ipAddress)
	return context.WithValue(ctx, userAgentKey, userAgent)
}

func IPAddressFromContext(ctx context.Context) string {
	return stringValue(ctx, ipAddressKey)
}

func UserAgentFromContext(ctx context.Context) string {
	return stringValue(ctx, userAgentKey)
}

func stringValue(ctx context.Context, key keyType) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(key).(string)
	return value
}
