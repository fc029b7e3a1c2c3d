package config

import (
	"errors"
	"time"
)

// Simulation configures cmd/simulate. Mix ratios are normalised to sum to 1.
type Simulation struct {
	Base Config

	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	ApplyRatio   float64
	SelectRatio  float64
	ReadRatio    float64
	LocumLimit   int
	RequestLimit int
}

func LoadSimulation() (Simulation, error) {
	base, err := Load()
	if err != nil {
		return Simulation{}, err
	}

	sim := Simulation{
		Base:         base,
		APIBaseURL:   getEnv("SIM_API_BASE_URL", "http://localhost:"+base.HTTPPort),
		Duration:     getDuration("SIM_DURATION", 30*time.Second),
		Workers:      getInt("SIM_WORKERS", 10),
		ApplyRatio:   getFloat("SIM_APPLY_RATIO", 0.5),
		SelectRatio:  getFloat("SIM_SELECT_RATIO", 0.2),
		ReadRatio:    getFloat("SIM_READ_RATIO", 0.3),
		LocumLimit:   getInt("SIM_LOCUM_LIMIT", 300),
		RequestLimit: getInt("SIM_REQUEST_LIMIT", 500),
	}

	if sim.Workers <= 0 {
		return Simulation{}, errors.New("SIM_WORKERS must be > 0")
	}
	if sim.Duration <= 0 {
		return Simulation{}, errors.New("SIM_DURATION must be > 0")
	}

	total := sim.ApplyRatio + sim.SelectRatio + sim.ReadRatio
	if total <= 0 {
		return Simulation{}, errors.New("SIM_*_RATIO must not all be zero")
	}
	sim.ApplyRatio /= total
	sim.SelectRatio /= total
	sim.ReadRatio /= total

	return sim, nil
}
