package slots

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/samber/lo"

	"agrivoice/internal/domain"
	"agrivoice/internal/ruletable"
)

// Outcome is what the interview should do after a follow-up answer.
type Outcome int

const (
	// OutcomeAnswered means the answer was stored (possibly into other steps' slots) and the queue advances.
	OutcomeAnswered Outcome = iota
	// OutcomeSkipped means an empty or negative answer; the queue advances with the short pause.
	OutcomeSkipped
	// OutcomeRetry asks the same step again without advancing.
	OutcomeRetry
	// OutcomeDone ends the follow-up cycle and jumps to review.
	OutcomeDone
	// OutcomeAwaitPhoto keeps the PHOTO step open until a photo arrives or is skipped.
	OutcomeAwaitPhoto
)

func (o Outcome) String() string {
	switch o {
	case OutcomeAnswered:
		return "answered"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeRetry:
		return "retry"
	case OutcomeDone:
		return "done"
	case OutcomeAwaitPhoto:
		return "await_photo"
	default:
		return "unknown"
	}
}

// Answer is the classification of one follow-up utterance.
type Answer struct {
	Outcome Outcome
	Slots   domain.Slots
	// Steps lists the steps whose slots received data, in step order.
	Steps []domain.FollowUpStep
}

// RetryPrompt is spoken when a short answer is treated as capture noise.
const RetryPrompt = "もう一度お願いします"

const noiseRunes = 2

var doneWords = map[string]bool{
	"以上です": true, "いじょうです": true, "以上": true, "終わり": true,
	"おわり": true, "終了": true, "しゅうりょう": true,
}

var photoCommandRE = regexp.MustCompile(`写真を?撮って|カメラを?起動|撮影して|撮るよ`)

// IsDone reports whether text is one of the explicit "that's all" utterances.
func IsDone(text string) bool {
	return doneWords[trimAnswer(text)]
}

// ClassifyAnswer routes a follow-up answer. The text is tested against every step's patterns so
// an answer given to the wrong question still lands in the right slot; when nothing matches, the
// raw text goes into the current step's slot.
func ClassifyAnswer(step domain.FollowUpStep, text string, current domain.Slots) Answer {
	out := Answer{Slots: current.Clone()}
	if IsDone(text) {
		out.Outcome = OutcomeDone
		return out
	}

	cleaned := trimAnswer(photoCommandRE.ReplaceAllString(Normalize(text), ""))
	skip := NoAnswer(cleaned)

	if !skip && utf8.RuneCountInString(cleaned) <= noiseRunes &&
		(step == domain.StepFertilizer || step == domain.StepPest) {
		out.Outcome = OutcomeRetry
		return out
	}

	if step == domain.StepPhoto {
		if skip {
			out.Outcome = OutcomeSkipped
		} else {
			out.Outcome = OutcomeAwaitPhoto
		}
		return out
	}

	if skip {
		out.Outcome = OutcomeSkipped
		return out
	}

	matched := lo.Uniq(lo.Map(stepTable.Evaluate(cleaned), func(m ruletable.Match, _ int) string {
		return m.Category
	}))
	for _, name := range matched {
		s, ok := domain.ParseStep(name)
		if !ok {
			continue
		}
		if writeMatched(&out.Slots, s, cleaned) {
			out.Steps = append(out.Steps, s)
		}
	}
	if len(matched) == 0 && writeRaw(&out.Slots, step, cleaned) {
		out.Steps = append(out.Steps, step)
	}
	out.Outcome = OutcomeAnswered
	return out
}

func writeMatched(s *domain.Slots, step domain.FollowUpStep, text string) bool {
	switch step {
	case domain.StepWork:
		s.WorkLog = appendText(s.WorkLog, text, "・")
	case domain.StepHouseTemp:
		temps := ApplyTemperatures(s, text, true)
		humidity := ApplyHumidity(s, text)
		return temps || humidity
	case domain.StepFertilizer:
		s.Fertilizer = appendText(s.Fertilizer, text, "、")
	case domain.StepPest:
		s.PestStatus = text
	case domain.StepHarvest:
		s.HarvestAmount = text
	case domain.StepCost:
		if fuelRE.MatchString(text) {
			s.FuelCost = text
		} else {
			s.MaterialCost = text
		}
	case domain.StepDuration:
		s.WorkDuration = text
	default:
		return false
	}
	return true
}

func writeRaw(s *domain.Slots, step domain.FollowUpStep, text string) bool {
	switch step {
	case domain.StepHouseTemp:
		if ApplyTemperatures(s, text, true) {
			return true
		}
		if v, ok := bareNumber(text); ok {
			return s.SetMaxTemp(v)
		}
		return false
	case domain.StepCost:
		if _, ok := bareNumber(text); ok {
			text += "円"
		}
		s.MaterialCost = text
		return true
	case domain.StepDuration:
		if _, ok := bareNumber(text); ok {
			text += "時間"
		}
		s.WorkDuration = text
		return true
	case domain.StepWork:
		s.WorkLog = text
	case domain.StepFertilizer:
		s.Fertilizer = text
	case domain.StepPest:
		s.PestStatus = text
	case domain.StepHarvest:
		s.HarvestAmount = text
	default:
		return false
	}
	return true
}

func bareNumber(text string) (float64, bool) {
	if !bareNumberRE.MatchString(text) {
		return 0, false
	}
	v, err := strconv.ParseFloat(text, 64)
	return v, err == nil
}

func appendText(existing, text, sep string) string {
	switch {
	case existing == "":
		return text
	case strings.Contains(existing, text):
		return existing
	default:
		return existing + sep + text
	}
}

// BuildQueue builds the follow-up queue. missing is the service's list of step names: nil means
// the service sent none, so unfilled data steps are used; a list with no valid entries falls back
// the same way. Filled steps are never queued and PHOTO is always last.
func BuildQueue(missing []string, s domain.Slots) []domain.FollowUpStep {
	var steps []domain.FollowUpStep
	switch {
	case missing == nil:
		steps = domain.DataSteps
	case len(missing) == 0:
		steps = nil
	default:
		steps = lo.Uniq(lo.FilterMap(missing, func(name string, _ int) (domain.FollowUpStep, bool) {
			return domain.ParseStep(strings.ToUpper(strings.TrimSpace(name)))
		}))
		if len(steps) == 0 {
			steps = domain.DataSteps
		}
	}
	queue := lo.Filter(steps, func(step domain.FollowUpStep, _ int) bool {
		return !domain.Filled(step, s)
	})
	return append(queue, domain.StepPhoto)
}

// NextIndex returns the first index at or after i whose step is not yet filled.
// It returns len(queue) when every remaining step is filled.
func NextIndex(queue []domain.FollowUpStep, i int, s domain.Slots) int {
	for i < len(queue) && domain.Filled(queue[i], s) {
		i++
	}
	return i
}
