package training

import "math"

// MAE is the mean absolute error. Empty or mismatched input yields 0.
func MAE(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	var sum float64
	for i := range actual {
		sum += math.Abs(actual[i] - predicted[i])
	}
	return sum / float64(len(actual))
}

// WAPE is the weighted absolute percentage error, in percent. It is 0 when
// the actuals sum to zero.
func WAPE(actual, predicted []float64) float64 {
	if len(actual) == 0 || len(actual) != len(predicted) {
		return 0
	}
	var num, den float64
	for i := range actual {
		num += math.Abs(actual[i] - predicted[i])
		den += math.Abs(actual[i])
	}
	if den == 0 {
		return 0
	}
	return num / den * 100
}
