// Package instrumentation provides OpenTelemetry metrics and tracing for storegate.
//
// # Quick Start
//
//	inst, err := instrumentation.New(instrumentation.Config{
//		Enabled:         true,
//		ServiceName:     "storegate",
//		ServiceVersion:  "1.0.0",
//		MetricsExporter: "prometheus",
//		TracesExporter:  "stdout",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer inst.Shutdown(context.Background())
//
//	mux.Handle("/metrics", inst.MetricsHandler())
//
// The prometheus exporter registers with a private registry, so
// MetricsHandler must be used instead of promhttp.Handler().
//
// # Available Metrics
//
// HTTP Layer:
//   - storegate.http.requests.total{method, endpoint, status}
//   - storegate.http.request.duration{endpoint} (ms)
//
// Session lifecycle:
//   - storegate.gate.decisions{decision}: proceed, redirect, error, pass, reject
//   - storegate.session.grants{kind, result}
//   - storegate.session.uninstalls{noop}
//   - storegate.session.invalidations{result}
//   - storegate.session.corrupt_records
//   - storegate.webhook.received{topic, result}
//
// Storage:
//   - storegate.storage.operations.total{backend, operation, result}
//   - storegate.storage.operations.duration{backend, operation} (ms)
//   - storegate.storage.records, storegate.storage.active_records (gauges)
//
// Proxy:
//   - storegate.proxy.requests.total{operation, outcome}
//   - storegate.proxy.requests.duration{operation} (ms)
//
// Security:
//   - storegate.rate_limit.exceeded{endpoint}
//
// # Tracing
//
// Every credential store call opens a span named storage.<operation>
// (storage.put, storage.get_active_by_tenant, ...) via StorageRecorder.
// Session operations open session.<operation> spans and upstream calls open
// proxy.<operation> spans, so a gated request renders as:
//
//	gate.load
//	└── session.on_load
//	    └── storage.get_active_by_tenant
//
// # Security Considerations
//
// Access tokens are never attached to spans or metric labels. Tenants are
// shop domains and are recorded in clear. Client IPs are only attached when
// Config.LogClientIPs is set.
//
// When Config.Enabled is false every provider is a no-op.
package instrumentation
