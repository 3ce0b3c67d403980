// Package feature turns windows into fixed-length feature vectors.
//
// Every vector is described by a Layout: a version string plus the ordered feature
// names. Classifiers carry the layout they were trained against, and the prediction
// loop refuses to start unless the extractor's layout matches exactly.
//
// Statistical is the default extractor (layout version "stat-v1"). For each channel
// axis it computes mean, std, min, max, range, median, skew, kurtosis, rms, peak count
// (values above mean + 2σ) and the largest DFT magnitude. Three-axis channels also get
// magnitude mean/std/max. WithWorldFrame appends the same axis statistics for
// acceleration rotated by the nearest orientation quaternion, which makes the vector
// less sensitive to how the device is worn.
package feature
