package sim

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"greencart-sim/internal/store"
)

var (
	// ErrInvalidConfiguration is returned by Start for malformed requests.
	ErrInvalidConfiguration = errors.New("invalid simulation configuration")
	// ErrPersistence wraps run record store failures.
	ErrPersistence = errors.New("run record persistence failed")
)

// Neutral tuning used when a request omits a parameter.
var DefaultParams = store.Params{
	SpeedVariance:        1,
	TrafficFactor:        1,
	BreakdownProbability: 0.3,
	RerouteProbability:   0.7,
}

// ParamsInput carries optional overrides; nil fields keep the defaults.
type ParamsInput struct {
	SpeedVariance        *float64 `json:"speedVariance,omitempty"`
	TrafficFactor        *float64 `json:"trafficFactor,omitempty"`
	BreakdownProbability *float64 `json:"breakdownProbability,omitempty"`
	RerouteProbability   *float64 `json:"rerouteProbability,omitempty"`
}

// StartRequest describes a run to launch.
type StartRequest struct {
	Name            string
	DurationMinutes int
	DriverIDs       []string
	OrderIDs        []string
	Params          *ParamsInput
	ActorID         string
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfiguration, fmt.Sprintf(format, args...))
}

func checkIDs(field string, ids []string) error {
	if len(ids) == 0 {
		return invalid("%s must not be empty", field)
	}
	for i, id := range ids {
		if strings.TrimSpace(id) == "" {
			return invalid("%s[%d] is blank", field, i)
		}
	}
	return nil
}

func checkParam(name string, v *float64, lo, hi float64, loExclusive bool) (float64, bool, error) {
	if v == nil {
		return 0, false, nil
	}
	x := *v
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0, false, invalid("%s must be a finite number", name)
	}
	if x > hi || x < lo || (loExclusive && x == lo) {
		return 0, false, invalid("%s=%v out of range", name, x)
	}
	return x, true, nil
}

// resolveParams applies overrides on top of DefaultParams.
func resolveParams(in *ParamsInput) (store.Params, error) {
	p := DefaultParams
	if in == nil {
		return p, nil
	}
	fields := []struct {
		name        string
		v           *float64
		dst         *float64
		lo, hi      float64
		loExclusive bool
	}{
		{"speedVariance", in.SpeedVariance, &p.SpeedVariance, 0, 10, false},
		{"trafficFactor", in.TrafficFactor, &p.TrafficFactor, 0, 10, true},
		{"breakdownProbability", in.BreakdownProbability, &p.BreakdownProbability, 0, 1, false},
		{"rerouteProbability", in.RerouteProbability, &p.RerouteProbability, 0, 1, false},
	}
	for _, f := range fields {
		x, ok, err := checkParam(f.name, f.v, f.lo, f.hi, f.loExclusive)
		if err != nil {
			return store.Params{}, err
		}
		if ok {
			*f.dst = x
		}
	}
	return p, nil
}

// validate checks req and returns the resolved parameters.
func (req StartRequest) validate() (store.Params, error) {
	if req.DurationMinutes <= 0 {
		return store.Params{}, invalid("duration must be a positive number of minutes, got %d", req.DurationMinutes)
	}
	if err := checkIDs("driverIds", req.DriverIDs); err != nil {
		return store.Params{}, err
	}
	if err := checkIDs("orderIds", req.OrderIDs); err != nil {
		return store.Params{}, err
	}
	return resolveParams(req.Params)
}
