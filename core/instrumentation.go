package orchestration

import (
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
)

const scopeName = "github.com/koscakluka/ema-relay/core"

var (
	tracer = otel.Tracer(scopeName)
	meter  = otel.Meter(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

var (
	droppedEvents, _ = meter.Int64Counter("relay.events.dropped")
	ignoredEvents, _ = meter.Int64Counter("relay.events.ignored")
	retries, _       = meter.Int64Counter("relay.retries")
)
