package usecase

// GateInputs is everything action availability is derived from.
type GateInputs struct {
	Running    bool
	Dead       bool
	Saved      bool
	LiveUpdate bool
}

// Gates tells the front-end which actions are currently permitted.
type Gates struct {
	Start bool
	Stop  bool
	Save  bool
	Undo  bool
}

// ComputeGates is a pure function of its inputs.
func ComputeGates(in GateInputs) Gates {
	return Gates{
		Start: (!in.Running || !in.Saved) && !in.Dead,
		Stop:  in.Running,
		Save:  !in.Saved,
		Undo:  !in.Saved,
	}
}
