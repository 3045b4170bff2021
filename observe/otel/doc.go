// Package otel is a placeholder OpenTelemetry observer plugin for the
// runtime package. It emits no spans yet; it exists so callers can wire
// an Instrument today and swap in real span emission later without
// touching call sites.
package otel
