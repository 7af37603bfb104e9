// Package gorex runs an HTML content extractor compiled to WebAssembly inside
// a wazero sandbox, so hostile or malformed pages cannot take down the host.
//
// # Overview
//
// Every call gets a fresh execution context with its own linear-memory cap,
// fuel budget and wall-clock deadline. Instances are pooled and pre-warmed,
// evicted after repeated failures or a use-count rotation, and guarded by a
// circuit breaker that routes traffic to an in-process fallback while open.
//
// # Basic Usage
//
//	g, _ := guest.FromFile("extractor.wasm")
//	svc, _ := sandbox.New(ctx, g, config.LoadOrDefault(),
//	    sandbox.WithLogger(logger))
//	defer svc.Close(ctx)
//
//	content, err := svc.Extract(ctx, extract.Request{
//	    HTML: html,
//	    URL:  "https://example.com/post",
//	    Mode: extract.Article(),
//	})
//	if extract.IsResourceLimit(err) {
//	    // fuel, memory or deadline exceeded
//	}
//
// # Metrics
//
//	reg := prometheus.NewRegistry()
//	svc, _ := sandbox.New(ctx, g, cfg,
//	    sandbox.WithMetrics(metrics.NewPrometheus(reg)))
//
// See the [sandbox], [executor], [pool], [breaker] and [extract] packages for
// detailed API documentation.
package gorex
