// Package telemetry installs OpenTelemetry trace and metric providers that
// export over OTLP.
//
// Instrumented packages obtain tracers and meters from the otel globals, so
// nothing but the binary needs to import this package:
//
//	tel, err := telemetry.New(ctx, cfg.Telemetry, version)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Exporter failures never stop the agent. A provider that cannot be built
// leaves the instance degraded and the corresponding global untouched.
//
// Tests use NewTestTelemetry, which records spans and metrics in memory and
// installs itself as the global provider until the test ends.
package telemetry
