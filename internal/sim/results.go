package sim

import (
	"math"

	"greencart-sim/internal/store"
)

// Economics are the fixed revenue and cost constants used for profit.
type Economics struct {
	RevenuePerDelivery float64
	CostPerKm          float64
}

var DefaultEconomics = Economics{RevenuePerDelivery: 50, CostPerKm: 0.5}

// Finalize computes the results of acc for a run planned to last plannedMinutes.
func Finalize(acc Accumulator, plannedMinutes int) store.Results {
	return FinalizeWith(acc, plannedMinutes, DefaultEconomics)
}

// FinalizeWith is Finalize with explicit economics. It is pure.
func FinalizeWith(acc Accumulator, plannedMinutes int, econ Economics) store.Results {
	onTimePct := 0.0
	if acc.Deliveries > 0 {
		onTimePct = float64(acc.OnTime) / float64(acc.Deliveries) * 100
	}

	throughput := 0.0
	if acc.Deliveries > 0 {
		throughput = clamp(float64(acc.Deliveries)/math.Max(1, float64(plannedMinutes)/10)*100, 0, 100)
	}
	reliability := 100.0
	if acc.TimeSamples > 0 {
		reliability = clamp(100-float64(acc.Breakdowns)/float64(acc.TimeSamples)*1000, 0, 100)
	}
	economy := 100.0
	if acc.DistanceTotal > 0 {
		economy = clamp(100-acc.FuelTotal/acc.DistanceTotal*100, 0, 100)
	}
	score := int(clamp(math.Round((throughput+reliability+economy)/3), 0, 100))

	profit := float64(acc.Deliveries)*econ.RevenuePerDelivery - (acc.DistanceTotal*econ.CostPerKm + acc.FuelTotal)

	distAvg := 0.0
	if acc.DistanceSamples > 0 {
		distAvg = round2(acc.DistanceTotal / float64(acc.DistanceSamples))
	}
	timeAvg := 0.0
	if acc.TimeSamples > 0 {
		timeAvg = math.Round(acc.TimeTotal / float64(acc.TimeSamples))
	}

	return store.Results{
		TotalProfit:     round2(profit),
		EfficiencyScore: score,
		Deliveries: store.Deliveries{
			Total:            acc.Deliveries,
			OnTime:           acc.OnTime,
			Late:             acc.Late,
			OnTimePercentage: round2(onTimePct),
		},
		FuelCosts: store.FuelCosts{
			Total: round2(acc.FuelTotal),
			Breakdown: store.FuelBreakdown{
				Diesel:   round2(acc.FuelDiesel),
				Petrol:   round2(acc.FuelPetrol),
				Electric: round2(acc.FuelElectric),
			},
		},
		Distance:   store.Distance{Total: round2(acc.DistanceTotal), Average: distAvg},
		Time:       store.TimeStats{Total: acc.TimeTotal, Average: timeAvg},
		Breakdowns: acc.Breakdowns,
		Reroutes:   acc.Reroutes,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
