package scenario

// BuiltIn returns the predefined workloads.
func BuiltIn() map[string]Scenario {
	return map[string]Scenario{
		"steady": {
			Name:        "Steady",
			Description: "Constant mixed load well inside the colony's capacity.",
			Phases: []Phase{
				{
					Name:             "steady",
					Description:      "Mixed ingest and telemetry with the occasional archive job.",
					Rate:             0.6,
					Mix:              map[string]float64{"ingest": 3, "telemetry": 2, "archive": 1},
					MaintenanceEvery: 200,
				},
			},
		},
		"surge": {
			Name:        "Surge",
			Description: "A quiet start, a traffic spike that overheats the yards and a recovery window.",
			Phases: []Phase{
				{
					Name:        "setup",
					Description: "Light telemetry while the yards warm up.",
					Rate:        0.3,
					Mix:         map[string]float64{"telemetry": 1},
					Triggers:    []Trigger{{Event: TicksElapsed, Value: 50, Next: "escalation"}},
				},
				{
					Name:          "escalation",
					Description:   "A burst of archive jobs lands on top of rising ingest.",
					Rate:          1.5,
					Mix:           map[string]float64{"ingest": 2, "telemetry": 1},
					Burst:         40,
					BurstPipeline: "archive",
					Triggers: []Trigger{
						{Event: Faults, Value: 10, Next: "recovery"},
						{Event: TicksElapsed, Value: 400, Next: "recovery"},
					},
				},
				{
					Name:             "recovery",
					Description:      "Load drops and maintenance crews cool the yards.",
					Rate:             0.2,
					Mix:              map[string]float64{"telemetry": 1},
					MaintenanceEvery: 5,
					Triggers:         []Trigger{{Event: TicksElapsed, Value: 100, Next: "resolution"}},
				},
				{
					Name:        "resolution",
					Description: "Back to normal traffic.",
					Rate:        0.5,
					Mix:         map[string]float64{"ingest": 1, "telemetry": 1},
				},
			},
		},
		"brownout": {
			Name:        "Brownout",
			Description: "Sustained overload that pushes corruption up until jobs start being abandoned.",
			Phases: []Phase{
				{
					Name:        "overload",
					Description: "Heavy ingest far beyond what the yards can absorb.",
					Rate:        3,
					Mix:         map[string]float64{"ingest": 3, "archive": 1},
					Triggers:    []Trigger{{Event: Abandoned, Value: 5, Next: "shed"}},
				},
				{
					Name:             "shed",
					Description:      "Traffic is shed and maintenance restores discipline.",
					Rate:             0.1,
					Mix:              map[string]float64{"telemetry": 1},
					MaintenanceEvery: 2,
					Triggers:         []Trigger{{Event: Completed, Value: 50, Next: "overload"}},
				},
			},
		},
	}
}
