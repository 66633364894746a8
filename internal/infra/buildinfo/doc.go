// Package buildinfo exposes build-time version information, injected
// via ldflags:
//
//	go build -ldflags "-X github.com/yndnr/hamesh-go/internal/infra/buildinfo.Version=v1.0.0"
//
// Unset values fall back to the module build information.
package buildinfo
