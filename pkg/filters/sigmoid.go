package filters

import (
	"math"

	"liverseg/internal/models"
)

// SigmoidParameters derives the logistic slope and midpoint from the two
// intensity landmarks K1 and K2.
func SigmoidParameters(k1, k2 float64) (alpha, beta float64) {
	return (k2 - k1) / 6, (k1 + k2) / 2
}

// Sigmoid maps intensities to [0, 1] with 1 / (1 + exp(-(x - beta) / alpha)).
// When k1 == k2 the curve degenerates to a step at beta.
func Sigmoid(v *models.Volume, k1, k2 float64) *models.Volume {
	alpha, beta := SigmoidParameters(k1, k2)
	out := v.NewLike()
	for i, x := range v.Data {
		out.Data[i] = sigmoid(x, alpha, beta)
	}
	return out
}

func sigmoid(x, alpha, beta float64) float64 {
	if alpha == 0 {
		switch {
		case x > beta:
			return 1
		case x < beta:
			return 0
		default:
			return 0.5
		}
	}

	y := 1 / (1 + math.Exp(-(x-beta)/alpha))
	if y < 0 {
		return 0
	}
	if y > 1 {
		return 1
	}
	return y
}
