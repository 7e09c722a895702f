package et0

// Site holds the per-installation constants of the calculation
type Site struct {
	LatDeg            float64
	ElevM             float64
	Albedo            float64
	AngstromAS        float64
	AngstromBS        float64
	WindSensorHeightM float64
}

// DefaultSite returns the package defaults
func DefaultSite() Site {
	return Site{
		LatDeg:            DefaultLatitudeDeg,
		ElevM:             DefaultElevationM,
		Albedo:            DefaultAlbedo,
		AngstromAS:        DefaultAngstromAS,
		AngstromBS:        DefaultAngstromBS,
		WindSensorHeightM: DefaultWindSensorHeightM,
	}
}

// Apply sets the site overrides on in
func (s Site) Apply(in *Input) {
	in.LatDeg = &s.LatDeg
	in.ElevM = &s.ElevM
	in.Albedo = &s.Albedo
	in.AngstromAS = &s.AngstromAS
	in.AngstromBS = &s.AngstromBS
	in.WindSensorHeightM = &s.WindSensorHeightM
}
