package soil

import (
	"math"

	"github.com/chrissnell/irrigationwx/internal/types"
)

// Zone is one irrigation zone with its own root-zone water storage
type Zone struct {
	Name       string
	RootDepthM float64
	// AWCMMPerM is the available water capacity of the soil, mm of water per m of soil
	AWCMMPerM float64
}

// TAW is the total available water of the root zone in mm
func (z Zone) TAW() float64 {
	return z.RootDepthM * z.AWCMMPerM
}

func (z Zone) validate() error {
	const op = "soil zone"
	if z.Name == "" {
		return types.InvalidInput(op, "name")
	}
	if !finite(z.RootDepthM) || z.RootDepthM <= 0 {
		return types.InvalidInput(op+" "+z.Name, "root_depth_m")
	}
	if !finite(z.AWCMMPerM) || z.AWCMMPerM <= 0 {
		return types.InvalidInput(op+" "+z.Name, "awc_mm_per_m")
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// clamp bounds s to [0, taw]
func clamp(s, taw float64) float64 {
	return math.Max(0, math.Min(taw, s))
}
