// Package ttc estimates time-to-collision for one tracked object from two
// consecutive frames.
//
// Camera estimates use the relative change of distances between keypoints
// on the object (a constant-velocity model on image scale). LiDAR
// estimates use the change of the object's trimmed mean forward distance.
// Both report degenerate input as errors wrapping
// fusion.ErrUndefinedEstimate rather than returning NaN or Inf.
package ttc
