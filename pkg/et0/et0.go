// Package et0 computes daily reference evapotranspiration using the FAO-56
// Penman-Monteith equation. Solar radiation is not measured; it is estimated
// from the daily temperature range (Hargreaves) and attenuated by cloud cover.
package et0

import (
	"math"

	"github.com/chrissnell/irrigationwx/internal/types"
)

// Site defaults, used when an Input leaves the corresponding override nil
const (
	DefaultLatitudeDeg       = 46.5668
	DefaultElevationM        = 1060.0
	DefaultAlbedo            = 0.23
	DefaultAngstromAS        = 0.25
	DefaultAngstromBS        = 0.50
	DefaultWindSensorHeightM = 10.0
)

const (
	solarConstant  = 0.0820   // MJ m⁻² min⁻¹
	stefanBoltzman = 4.903e-9 // MJ K⁻⁴ m⁻² day⁻¹
	hargreavesKRS  = 0.16     // interior locations
	minTempRange   = 0.1
	minRnlFactor   = 0.05
)

// Input is one day of meteorological data. TAvgC defaults to the midpoint of
// TMinC and TMaxC. The site overrides default to the package constants.
type Input struct {
	DOY            int
	TMinC          float64
	TMaxC          float64
	TAvgC          *float64
	RHMeanPct      float64
	WindAtSensorMS float64
	PressureHPa    float64
	CloudPct       float64

	LatDeg            *float64
	ElevM             *float64
	Albedo            *float64
	AngstromAS        *float64
	AngstromBS        *float64
	WindSensorHeightM *float64
}

// Breakdown exposes the intermediate terms of a calculation
type Breakdown struct {
	Es, Ea, Delta, Gamma float64
	Ra, Rs, Rso, Rns     float64
	Rnl, Rn, U2          float64
	Et0                  float64
}

// ComputeDaily returns ET₀ in mm/day, non-negative and rounded to 2 decimals
func ComputeDaily(in Input) (float64, error) {
	b, err := Compute(in)
	if err != nil {
		return 0, err
	}
	return b.Et0, nil
}

// Compute runs the full calculation and returns every intermediate term
func Compute(in Input) (Breakdown, error) {
	if err := validate(in); err != nil {
		return Breakdown{}, err
	}

	lat := orDefault(in.LatDeg, DefaultLatitudeDeg)
	elev := orDefault(in.ElevM, DefaultElevationM)
	albedo := orDefault(in.Albedo, DefaultAlbedo)
	as := orDefault(in.AngstromAS, DefaultAngstromAS)
	bs := orDefault(in.AngstromBS, DefaultAngstromBS)
	zWind := orDefault(in.WindSensorHeightM, DefaultWindSensorHeightM)

	tmin, tmax := in.TMinC, in.TMaxC
	tavg := (tmin + tmax) / 2
	if in.TAvgC != nil {
		tavg = *in.TAvgC
	}
	rh := clamp(in.RHMeanPct, 0, 100)
	cloud := clamp(in.CloudPct, 0, 100)

	var b Breakdown

	svpAvg := SaturationVaporPressure(tavg)
	b.Es = (SaturationVaporPressure(tmax) + SaturationVaporPressure(tmin)) / 2
	b.Ea = svpAvg * rh / 100

	b.Delta = 4098 * svpAvg / math.Pow(tavg+237.3, 2)
	b.Gamma = PsychrometricConstant(in.PressureHPa / 10)

	b.Ra = ExtraterrestrialRadiation(lat, in.DOY)

	b.Rs = hargreavesKRS * math.Sqrt(math.Max(tmax-tmin, minTempRange)) * b.Ra
	b.Rs *= 1 - 0.75*math.Pow(cloud/100, 3)

	b.Rso = (as + bs + 2e-5*elev) * b.Ra
	ratio := 1.0
	if b.Rso > 0 {
		ratio = math.Min(b.Rs/b.Rso, 1.0)
	}

	b.Rns = (1 - albedo) * b.Rs

	tmaxK := tmax + 273.15
	tminK := tmin + 273.15
	emissivity := math.Max(0.34-0.14*math.Sqrt(b.Ea), minRnlFactor)
	cloudFactor := math.Max(1.35*ratio-0.35, minRnlFactor)
	b.Rnl = stefanBoltzman * (math.Pow(tmaxK, 4) + math.Pow(tminK, 4)) / 2 * emissivity * cloudFactor

	b.Rn = b.Rns - b.Rnl
	b.U2 = WindAt2m(in.WindAtSensorMS, zWind)

	num := 0.408*b.Delta*b.Rn + b.Gamma*(900/(tavg+273.15))*b.U2*(b.Es-b.Ea)
	den := b.Delta + b.Gamma*(1+0.34*b.U2)

	b.Et0 = round2(math.Max(num/den, 0))
	return b, nil
}

// SaturationVaporPressure returns e°(T) in kPa for T in °C
func SaturationVaporPressure(tC float64) float64 {
	return 0.6108 * math.Exp(17.27*tC/(tC+237.3))
}

// PsychrometricConstant returns γ in kPa/°C for pressure in kPa
func PsychrometricConstant(pKPa float64) float64 {
	return 0.000665 * pKPa
}

// ExtraterrestrialRadiation returns Ra in MJ m⁻² day⁻¹
func ExtraterrestrialRadiation(latDeg float64, doy int) float64 {
	phi := latDeg * math.Pi / 180
	j := float64(doy)

	dr := 1 + 0.033*math.Cos(2*math.Pi/365*j)
	decl := 0.409 * math.Sin(2*math.Pi/365*j-1.39)

	// Polar day and polar night clamp the sunset hour angle
	ws := math.Acos(clamp(-math.Tan(phi)*math.Tan(decl), -1, 1))

	return 24 * 60 / math.Pi * solarConstant * dr *
		(ws*math.Sin(phi)*math.Sin(decl) + math.Cos(phi)*math.Cos(decl)*math.Sin(ws))
}

// WindAt2m converts a wind speed measured at heightM to the 2 m reference height
func WindAt2m(uz, heightM float64) float64 {
	if heightM == 2 {
		return uz
	}
	return uz * 4.87 / math.Log(67.8*heightM-5.42)
}

func validate(in Input) error {
	const op = "et0"

	if in.DOY < 1 || in.DOY > 366 {
		return types.InvalidInput(op, "doy")
	}

	required := []struct {
		name string
		v    float64
	}{
		{"tmin_c", in.TMinC},
		{"tmax_c", in.TMaxC},
		{"rh_mean_pct", in.RHMeanPct},
		{"wind_at_sensor_ms", in.WindAtSensorMS},
		{"pressure_hpa", in.PressureHPa},
		{"cloud_pct", in.CloudPct},
	}
	for _, r := range required {
		if !finite(r.v) {
			return types.InvalidInput(op, r.name)
		}
	}

	optional := []struct {
		name string
		v    *float64
	}{
		{"tavg_c", in.TAvgC},
		{"lat_deg", in.LatDeg},
		{"elev_m", in.ElevM},
		{"albedo", in.Albedo},
		{"angstrom_as", in.AngstromAS},
		{"angstrom_bs", in.AngstromBS},
		{"wind_sensor_height_m", in.WindSensorHeightM},
	}
	for _, o := range optional {
		if o.v != nil && !finite(*o.v) {
			return types.InvalidInput(op, o.name)
		}
	}

	if in.TMinC > in.TMaxC {
		return types.InvalidInput(op, "tmin_c > tmax_c")
	}
	if in.WindAtSensorMS < 0 {
		return types.InvalidInput(op, "wind_at_sensor_ms")
	}
	if in.PressureHPa <= 0 {
		return types.InvalidInput(op, "pressure_hpa")
	}
	if in.WindSensorHeightM != nil && *in.WindSensorHeightM <= 0.1 {
		return types.InvalidInput(op, "wind_sensor_height_m")
	}
	return nil
}

func orDefault(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
