package labor

import (
	"context"

	"go.uber.org/zap"

	"github.com/warp/laborcost/ids"
)

type ctxKey int

const (
	correlationKey ctxKey = iota
	requestIDKey
)

// NewCorrelationID returns a fresh, time-sortable correlation id.
func NewCorrelationID() CorrelationID { return CorrelationID(ids.New()) }

// NewCostRunID returns a fresh, time-sortable cost-run id.
func NewCostRunID() CostRunID { return CostRunID(ids.New()) }

// NewRecordID returns a random id for entries, audit records and rate records.
func NewRecordID() string { return ids.NewUUID() }

// WithCorrelationID attaches a bulk correlation id to ctx. Every audit record
// written under ctx carries it.
func WithCorrelationID(ctx context.Context, id CorrelationID) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, correlationKey, id)
}

// CorrelationIDFrom returns the correlation id attached to ctx, if any.
func CorrelationIDFrom(ctx context.Context) CorrelationID {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationKey).(CorrelationID)
	return id
}

// WithRequestID attaches the inbound request id for log correlation.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFrom returns the request id attached to ctx, if any.
func RequestIDFrom(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// logFields returns the correlation fields present on ctx.
func logFields(ctx context.Context, fields ...zap.Field) []zap.Field {
	if id := CorrelationIDFrom(ctx); id != "" {
		fields = append(fields, zap.String("correlation_id", string(id)))
	}
	if id := RequestIDFrom(ctx); id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	return fields
}
