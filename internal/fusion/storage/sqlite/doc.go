// Package sqlite persists TTC runs and their per-box estimates.
//
// The schema is managed by golang-migrate from migrations embedded in the
// binary. Nothing stored here is read back by the estimation pipeline;
// the store is an output sink for reports and later analysis.
package sqlite
