package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLogFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetLogFields(ctx))

	ctx = WithServiceName(ctx, "rate-resolver")
	ctx = WithShipment(ctx, "S1", "AGR-1")
	ctx = WithRunID(ctx, "run-1")
	ctx = WithRequestID(ctx, "req-1")

	assert.Equal(t, []interface{}{
		"request_id", "req-1",
		"run_id", "run-1",
		"shipment_id", "S1",
		"agreement_id", "AGR-1",
		"service_name", "rate-resolver",
	}, GetLogFields(ctx))
	assert.Equal(t, "S1", GetShipmentID(ctx))
	assert.Equal(t, "", GetTraceID(ctx))
}

func TestWithShipment_EmptyAgreementOmitted(t *testing.T) {
	ctx := WithShipment(context.Background(), "S1", "")
	assert.Equal(t, []interface{}{"shipment_id", "S1"}, GetLogFields(ctx))
}
