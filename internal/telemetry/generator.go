package telemetry

import (
	"time"
)

// Rand is the random source a Generator draws from. *math/rand.Rand satisfies it.
type Rand interface {
	Float64() float64
	Intn(n int) int
}

// Origin is the reference coordinate samples scatter around.
type Origin struct {
	Lat    float64
	Lon    float64
	Jitter float64 // full width in degrees; samples fall within +/- Jitter/2
}

// fuel cost per km/h of speed, divided by 100
var fuelRates = map[FuelType]float64{
	FuelElectric: 0.10,
	FuelPetrol:   0.15,
	FuelDiesel:   0.12,
}

const (
	baseSpeedKmh  = 20
	speedRangeKmh = 30
)

// Generator synthesizes telemetry samples and incidents for one run.
type Generator struct {
	origin Origin
	rand   Rand
	now    func() time.Time
}

// NewGenerator creates a generator. A nil now defaults to time.Now.
func NewGenerator(origin Origin, r Rand, now func() time.Time) *Generator {
	if now == nil {
		now = time.Now
	}
	return &Generator{origin: origin, rand: r, now: now}
}

// Sample returns a telemetry row for driverID. speedVariance widens the speed
// range and trafficFactor divides the resulting speed.
func (g *Generator) Sample(runID, driverID string, orderIDs []string, speedVariance, trafficFactor float64) TelemetryRow {
	lat := g.origin.Lat + (g.rand.Float64()-0.5)*g.origin.Jitter
	lon := g.origin.Lon + (g.rand.Float64()-0.5)*g.origin.Jitter
	speed := baseSpeedKmh + g.rand.Float64()*speedRangeKmh*speedVariance
	if trafficFactor > 0 {
		speed /= trafficFactor
	}
	heading := int(g.rand.Float64() * 360)
	battery := int(g.rand.Float64() * 100)
	order := ""
	if len(orderIDs) > 0 {
		order = orderIDs[g.rand.Intn(len(orderIDs))]
	}
	fuel, cost := g.Fuel(speed)

	return TelemetryRow{
		RunID:      runID,
		DriverID:   driverID,
		Timestamp:  g.now().UTC(),
		Lat:        lat,
		Lon:        lon,
		Speed:      speed,
		Heading:    heading,
		BatteryPct: battery,
		OrderID:    order,
		FuelType:   fuel,
		FuelCost:   cost,
	}
}

// Fuel picks a fuel type (electric 30%, otherwise petrol or diesel evenly)
// and returns the cost of a sample at speed.
func (g *Generator) Fuel(speed float64) (FuelType, float64) {
	var ft FuelType
	switch {
	case g.rand.Float64() > 0.7:
		ft = FuelElectric
	case g.rand.Float64() > 0.5:
		ft = FuelPetrol
	default:
		ft = FuelDiesel
	}
	return ft, speed / 100 * fuelRates[ft]
}

// Chance reports whether an event with probability p happens.
func (g *Generator) Chance(p float64) bool {
	return g.rand.Float64() < p
}

// Event picks a breakdown or reroute using the two weights and assigns it to
// a random driver. ok is false when both weights are zero or there are no drivers.
func (g *Generator) Event(runID string, driverIDs []string, breakdownWeight, rerouteWeight float64) (EventRow, bool) {
	total := breakdownWeight + rerouteWeight
	if total <= 0 || len(driverIDs) == 0 {
		return EventRow{}, false
	}
	typ, msg := EventReroute, "Route changed due to traffic"
	if g.rand.Float64()*total < breakdownWeight {
		typ, msg = EventBreakdown, "Vehicle breakdown"
	}
	return EventRow{
		RunID: runID,
		Type:  typ,
		Payload: EventPayload{
			DriverID: driverIDs[g.rand.Intn(len(driverIDs))],
			Message:  msg,
		},
		Timestamp: g.now().UTC(),
	}, true
}
