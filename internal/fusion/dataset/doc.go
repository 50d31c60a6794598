// Package dataset reads recorded frame sequences from disk.
//
// A sequence directory holds one frame record and one LiDAR scan per
// frame index:
//
//	<dir>/frames/000000.json    detections, keypoints, correspondences
//	<dir>/velodyne/000000.bin   KITTI scan, float32 x y z r quadruples
//
// Correspondences in a record refer to the previous frame of the
// sequence, i.e. index - step.
package dataset
