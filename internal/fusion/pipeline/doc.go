// Package pipeline orchestrates time-to-collision estimation for a pair of
// consecutive frames.
//
// It wires together the stage packages (associate, boxmatch, kptfilter,
// ttc) in the fixed order Associator → Box Correspondence Matcher →
// Keypoint-Match Filter → Estimators. The pipeline owns no domain logic;
// it sequences stages, isolates per-box failures and reports through an
// Observer.
package pipeline
