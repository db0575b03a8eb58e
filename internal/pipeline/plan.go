package pipeline

// Plan is the ordered subsequence of stages an action executes.
type Plan struct {
	// Action is the action the plan was derived from.
	Action Action
	// Stages holds the included stages in table order.
	Stages []Stage
}

// NewPlan derives the plan for an action from the stage table.
func NewPlan(action Action) (Plan, error) {
	if _, err := ParseAction(string(action)); err != nil {
		return Plan{}, err
	}
	plan := Plan{Action: action}
	for _, s := range stageTable {
		if s.IncludedIn(action) {
			plan.Stages = append(plan.Stages, s)
		}
	}
	return plan, nil
}

// IDs returns the stage IDs of the plan in order.
func (p Plan) IDs() []StageID {
	ids := make([]StageID, 0, len(p.Stages))
	for _, s := range p.Stages {
		ids = append(ids, s.ID)
	}
	return ids
}

// Includes reports whether the plan contains the stage.
func (p Plan) Includes(id StageID) bool {
	for _, s := range p.Stages {
		if s.ID == id {
			return true
		}
	}
	return false
}

// Destructive returns the stages that require operator confirmation.
func (p Plan) Destructive() []Stage {
	var out []Stage
	for _, s := range p.Stages {
		if s.Destructive {
			out = append(out, s)
		}
	}
	return out
}

// RequiredSecrets returns the distinct secret names needed by the plan, in stage order.
func (p Plan) RequiredSecrets() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range p.Stages {
		for _, name := range s.Secrets {
			if _, ok := seen[name]; ok {
				continue
			}
			seen[name] = struct{}{}
			out = append(out, name)
		}
	}
	return out
}

// Kinds reports which side-effect kinds the plan touches.
func (p Plan) Kinds() map[Kind]bool {
	out := make(map[Kind]bool)
	for _, s := range p.Stages {
		out[s.Kind] = true
	}
	return out
}
