// Package classifier provides model-file backed classifiers for the prediction loop.
//
// Linear is a standard scaler followed by a multinomial logistic (softmax) model; the
// reported confidence is the winning class probability. TwoStage chains a binary gate
// model in front of a multiclass model for everything else.
//
// Model files are JSON or YAML and always carry the feature layout they were trained
// against:
//
//	kind: linear
//	layout:
//	  version: stat-v1
//	  names: [acceleration_x_mean, ...]
//	labels: [idle, jump, punch]
//	scaler: {mean: [...], scale: [...]}
//	weights: [[...], [...], [...]]
//	bias: [0.1, -0.2, 0.1]
package classifier
