package x402

import "context"

type settlementKey struct{}

// ContextWithSettlement attaches a settlement result to ctx. Framework
// adapters call this before forwarding control to the protected handler;
// the reference middleware does it automatically.
func ContextWithSettlement(ctx context.Context, result *SettlementResult) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if result == nil {
		return ctx
	}
	return context.WithValue(ctx, settlementKey{}, result)
}

// SettlementFromContext extracts the settlement result attached after a
// successful payment, or nil when the request was not paid.
func SettlementFromContext(ctx context.Context) *SettlementResult {
	if ctx == nil {
		return nil
	}
	if result, ok := ctx.Value(settlementKey{}).(*SettlementResult); ok {
		return result
	}
	return nil
}
