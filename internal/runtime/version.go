package runtime

// Version is injected via ldflags at build time (see cmd/iqrfgd2/main.go).
// It is surfaced to telemetry/profiling as the reported service version.
var Version = "dev"
