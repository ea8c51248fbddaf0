package bandwidth

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/OCAP2/physync/internal/bandwidth"

func meter() metric.Meter {
	return otel.Meter(instrumentationName)
}
