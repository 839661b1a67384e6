package middleware

import "context"

const memberHolderKey ContextKey = "member_holder"

type memberHolder struct {
	memberID string
}

func withMemberHolder(ctx context.Context, h *memberHolder) context.Context {
	return context.WithValue(ctx, memberHolderKey, h)
}
