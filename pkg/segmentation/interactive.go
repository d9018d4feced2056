package segmentation

import (
	"fmt"
	"io"
	"math"

	"liverseg/internal/models"
	"liverseg/pkg/config"
	"liverseg/pkg/filters"
	"liverseg/pkg/levelset"
	"liverseg/pkg/prompt"
)

// PromptThresholds shows the value distribution of every result on out and
// asks p for the lower and upper threshold.
func PromptThresholds(p *prompt.Prompter, out io.Writer) ThresholdFunc {
	return func(mode Mode, levels *models.Volume, current config.Range) (config.Range, error) {
		s := filters.Summarize(displayLevels(levels))
		fmt.Fprintf(out, "%s result: min %.4g  max %.4g  mean %.4g  stddev %.4g\n",
			mode, s.Min, s.Max, s.Mean, s.StdDev)
		if err := filters.Histogram(out, levels, 20, levelset.LargeValue); err != nil {
			fmt.Fprintf(out, "no histogram: %v\n", err)
		}

		low, err := p.Float(fmt.Sprintf("Lower threshold for %s (configured %g): ", mode, current.Low),
			math.Inf(-1), math.Inf(1))
		if err != nil {
			return current, err
		}
		high, err := p.Float(fmt.Sprintf("Upper threshold for %s (configured %g): ", mode, current.High),
			low, math.Inf(1))
		if err != nil {
			return current, err
		}
		return config.Range{Low: low, High: high}, nil
	}
}
