package observe

import (
	"context"
	"net/http"
	"testing"

	"github.com/hacknlove/safeapi-server/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

func Test_ResourceMerge(t *testing.T) {
	// Ensure that schema incompatibility on OTEL upgrades is detected before
	// merge
	r, err := resourceWithServiceName(
		resource.Default(),
		"serviceName")

	require.NoError(t, err)

	name, ok := r.Set().Value(semconv.ServiceNameKey)
	assert.True(t, ok)
	assert.Equal(t, "serviceName", name.AsString())
}

func TestConfigureDisabled(t *testing.T) {
	shutdown, err := Configure(context.Background(), config.ObserveConfig{Enabled: false})
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	assert.NoError(t, shutdown(context.Background()))
}

func TestConfigureStdout(t *testing.T) {
	shutdown, err := Configure(context.Background(), config.ObserveConfig{
		Enabled:                   true,
		MetricsEnabled:            true,
		Type:                      "stdout",
		ServiceName:               "safeapi-test",
		TraceBatchTimeoutSeconds:  1,
		MetricReadIntervalSeconds: 1,
	})
	require.NoError(t, err)

	assert.NoError(t, shutdown(context.Background()))
}

func TestHttpTransport(t *testing.T) {
	base := http.DefaultTransport

	cases := []struct {
		name    string
		cfg     config.ObserveConfig
		wrapped bool
	}{
		{name: "disabled", cfg: config.ObserveConfig{Enabled: false, HttpTransportEnabled: true}},
		{name: "transport disabled", cfg: config.ObserveConfig{Enabled: true, HttpTransportEnabled: false}},
		{name: "enabled", cfg: config.ObserveConfig{Enabled: true, HttpTransportEnabled: true}, wrapped: true},
		{name: "enabled with connection trace", cfg: config.ObserveConfig{Enabled: true, HttpTransportEnabled: true, HttpConnectionTraceEnabled: true}, wrapped: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rt := HttpTransport(base, tc.cfg)

			if tc.wrapped {
				assert.NotSame(t, base, rt)
			} else {
				assert.Same(t, base, rt)
			}
		})
	}
}
