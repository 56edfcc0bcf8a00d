// Package resource models per-workyard heat and the throttle it imposes.
package resource

// Tunables parameterise the thermal/power model. They are fixed for the
// duration of a run.
type Tunables struct {
	HeatGain       float64 `yaml:"heat_gain" json:"heat_gain"`
	DecayRate      float64 `yaml:"decay_rate" json:"decay_rate"`
	ThrottleKnee   float64 `yaml:"throttle_knee" json:"throttle_knee"`
	ThrottleFloor  float64 `yaml:"throttle_floor" json:"throttle_floor"`
	OpPowerKW      float64 `yaml:"op_power_kw" json:"op_power_kw"`
	IdlePowerKW    float64 `yaml:"idle_power_kw" json:"idle_power_kw"`
	OpBaseMs       float64 `yaml:"op_base_ms" json:"op_base_ms"`
	PayloadMsPerKB float64 `yaml:"payload_ms_per_kb" json:"payload_ms_per_kb"`
	BandwidthPerKB float64 `yaml:"bandwidth_per_kb" json:"bandwidth_per_kb"`
}

// DefaultTunables returns the stock thermal/power parameters.
func DefaultTunables() Tunables {
	return Tunables{
		HeatGain:       0.05,
		DecayRate:      0.1,
		ThrottleKnee:   0.85,
		ThrottleFloor:  0.4,
		OpPowerKW:      1.5,
		IdlePowerKW:    0.2,
		OpBaseMs:       100,
		PayloadMsPerKB: 1,
		BandwidthPerKB: 1,
	}
}

// StepHeat integrates one tick of heat. The result is floored at zero and
// unbounded above; the throttle is the only feedback.
func StepHeat(heat, powerDraw, utilization, dt float64, t Tunables) float64 {
	gen := powerDraw * utilization * dt * t.HeatGain
	decay := heat * t.DecayRate * dt
	return max(0, heat+gen-decay)
}

// Throttle returns the work-rate multiplier for a yard. Below the knee it is
// 1; above it degrades as heatCap/heat toward the floor. Since
// heatCap/(knee*heatCap) > 1 for any knee < 1, the curve is continuous at the
// knee.
func Throttle(heat, heatCap float64, t Tunables) float64 {
	if heatCap <= 0 {
		return t.ThrottleFloor
	}
	if heat < t.ThrottleKnee*heatCap {
		return 1
	}
	return clamp(heatCap/heat, t.ThrottleFloor, 1)
}

// Utilization is the fraction of workers currently running.
func Utilization(running, total int) float64 {
	if total <= 0 {
		return 0
	}
	return float64(running) / float64(total)
}

// PowerDraw is the instantaneous draw of a yard with the given occupancy.
func PowerDraw(running, total int, t Tunables) float64 {
	return float64(running)*t.OpPowerKW + float64(total-running)*t.IdlePowerKW
}

// OpWorkMs is the amount of unthrottled work, in milliseconds, one op costs
// for a payload of payloadSize KB.
func OpWorkMs(payloadSize int, t Tunables) float64 {
	return t.OpBaseMs + float64(payloadSize)*t.PayloadMsPerKB
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
