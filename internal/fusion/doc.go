// Package fusion owns the shared data model for camera/LiDAR
// time-to-collision estimation.
//
// Responsibilities: range points, keypoints, correspondences, detection
// boxes and frames; the sentinel errors reported by the estimators; the
// frame ring buffer; and the ops/diag/trace logging streams.
// Key types: RangePoint, Keypoint, Correspondence, DetectionBox, Frame.
//
// Dependency rule: fusion imports no other internal package. Stage
// packages (projection, associate, boxmatch, kptfilter, ttc) depend on
// fusion; only pipeline depends on the stages.
//
// Ownership: a Frame owns its points, keypoints and boxes. Boxes hold
// indices into those collections (PointIdx into Frame.Points, MatchIdx into
// the frame pair's correspondence slice) and never copies of the geometry.
package fusion
