package logging

import (
	"context"
)

type contextKey string

const (
	TraceIDKey     contextKey = "trace_id"
	MessageIDKey   contextKey = "message_id"
	RequestIDKey   contextKey = "request_id"
	ServiceNameKey contextKey = "service_name"
	RunIDKey       contextKey = "run_id"
	ShipmentIDKey  contextKey = "shipment_id"
	AgreementIDKey contextKey = "agreement_id"
)

// fieldOrder is the order context fields appear in log lines.
var fieldOrder = []contextKey{
	TraceIDKey,
	MessageIDKey,
	RequestIDKey,
	RunIDKey,
	ShipmentIDKey,
	AgreementIDKey,
	ServiceNameKey,
}

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, MessageIDKey, messageID)
}

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, ServiceNameKey, serviceName)
}

func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, RunIDKey, runID)
}

// WithShipment tags the context with the shipment and agreement being
// resolved.
func WithShipment(ctx context.Context, shipmentID, agreementID string) context.Context {
	ctx = context.WithValue(ctx, ShipmentIDKey, shipmentID)
	return context.WithValue(ctx, AgreementIDKey, agreementID)
}

func value(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func GetTraceID(ctx context.Context) string {
	return value(ctx, TraceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return value(ctx, MessageIDKey)
}

func GetRequestID(ctx context.Context) string {
	return value(ctx, RequestIDKey)
}

func GetServiceName(ctx context.Context) string {
	return value(ctx, ServiceNameKey)
}

func GetRunID(ctx context.Context) string {
	return value(ctx, RunIDKey)
}

func GetShipmentID(ctx context.Context) string {
	return value(ctx, ShipmentIDKey)
}

func GetAgreementID(ctx context.Context) string {
	return value(ctx, AgreementIDKey)
}

func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 2*len(fieldOrder))
	for _, key := range fieldOrder {
		if v := value(ctx, key); v != "" {
			fields = append(fields, string(key), v)
		}
	}
	return fields
}
