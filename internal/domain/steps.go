package domain

// FollowUpStep is one question category of the interview queue.
type FollowUpStep string

const (
	StepWork       FollowUpStep = "WORK"
	StepHouseTemp  FollowUpStep = "HOUSE_TEMP"
	StepFertilizer FollowUpStep = "FERTILIZER"
	StepPest       FollowUpStep = "PEST"
	StepHarvest    FollowUpStep = "HARVEST"
	StepCost       FollowUpStep = "COST"
	StepDuration   FollowUpStep = "DURATION"
	StepPhoto      FollowUpStep = "PHOTO"
)

// DataSteps lists the steps that collect slot data, in default queue order.
var DataSteps = []FollowUpStep{
	StepWork, StepHouseTemp, StepFertilizer, StepPest, StepHarvest, StepCost, StepDuration,
}

// ParseStep maps a service-provided category name to a step.
// PHOTO is not accepted because it is always appended by the queue builder.
func ParseStep(name string) (FollowUpStep, bool) {
	for _, step := range DataSteps {
		if string(step) == name {
			return step, true
		}
	}
	return "", false
}

// Filled reports whether the slot collected by step is already present.
func Filled(step FollowUpStep, s Slots) bool {
	switch step {
	case StepWork:
		return s.WorkLog != ""
	case StepHouseTemp:
		return s.HasHouseData()
	case StepFertilizer:
		return s.Fertilizer != ""
	case StepPest:
		return s.PestStatus != ""
	case StepHarvest:
		return s.HarvestAmount != ""
	case StepCost:
		return s.MaterialCost != "" || s.FuelCost != ""
	case StepDuration:
		return s.WorkDuration != ""
	default:
		return false
	}
}
