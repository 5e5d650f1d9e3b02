// Package logx wraps zerolog behind a small, swap-safe logging service.
//
// Components hold a logx.Logger tagged with a "comp" field; the Service
// owns the sinks (console, optional JSON file) and can re-apply level and
// output configuration at runtime without invalidating loggers already
// handed out.
package logx
