// Package logx is a thin structured-logging layer over zerolog.
//
// It exists so the rest of the codebase can log through a stable API
// (Logger + Field helpers) while the sink configuration (console, file,
// level) can be swapped at runtime via Service.Apply without rebuilding
// derived loggers.
package logx
