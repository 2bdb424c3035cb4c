package domain

import "time"

// EmotionCategory groups risk signals.
type EmotionCategory string

const (
	CategoryPhysical    EmotionCategory = "physical"
	CategoryWeather     EmotionCategory = "weather"
	CategoryIsolation   EmotionCategory = "isolation"
	CategoryFinancial   EmotionCategory = "financial"
	CategoryMotivation  EmotionCategory = "motivation"
	CategoryResignation EmotionCategory = "resignation"
	CategorySOS         EmotionCategory = "sos"
)

// EmotionSignal is one matched risk pattern.
type EmotionSignal struct {
	Category EmotionCategory `json:"category"`
	Phrase   string          `json:"phrase"`
	Weight   int             `json:"weight"`
}

// EmotionAnalysis is the classifier result for one utterance.
type EmotionAnalysis struct {
	Tier            int             `json:"tier"`
	Score           int             `json:"score"`
	Signals         []EmotionSignal `json:"signals"`
	PrimaryCategory EmotionCategory `json:"primaryCategory,omitempty"`
}

// Categories returns the distinct categories of the matched signals in match order.
func (a EmotionAnalysis) Categories() []EmotionCategory {
	seen := make(map[EmotionCategory]bool, len(a.Signals))
	out := make([]EmotionCategory, 0, len(a.Signals))
	for _, signal := range a.Signals {
		if seen[signal.Category] {
			continue
		}
		seen[signal.Category] = true
		out = append(out, signal.Category)
	}
	return out
}

// ComfortContent is the non-blocking card shown instead of a celebration.
type ComfortContent struct {
	Title      string `json:"title"`
	Message    string `json:"message"`
	Suggestion string `json:"suggestion"`
}

// ConfirmItem is one editable review row.
type ConfirmItem struct {
	Key   string `json:"key"`
	Label string `json:"label"`
	Value string `json:"value"`
}

// AdminLogSource records which generator produced a persisted admin log.
type AdminLogSource string

const (
	AdminLogTemplate AdminLogSource = "template"
	AdminLogAI       AdminLogSource = "ai"
)

// LocalRecord is an immutable saved interview.
type LocalRecord struct {
	ID              string         `json:"id"`
	Date            string         `json:"date"`
	Location        string         `json:"location"`
	LocationID      string         `json:"location_id,omitempty"`
	Slots           Slots          `json:"slots"`
	AdminLog        string         `json:"admin_log"`
	AdminLogSource  AdminLogSource `json:"admin_log_source"`
	Advice          string         `json:"advice"`
	StrategicAdvice string         `json:"strategic_advice"`
	PhotoCount      int            `json:"photo_count"`
	EstimatedProfit int            `json:"estimated_profit,omitempty"`
	RawTranscript   string         `json:"raw_transcript,omitempty"`
	Synced          bool           `json:"synced"`
	Timestamp       time.Time      `json:"timestamp"`
}

// LocationMaster is a canonical field/greenhouse name with its aliases.
type LocationMaster struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Aliases   []string  `json:"aliases"`
	CreatedAt time.Time `json:"created_at"`
}

// MoodEntry is the coarse risk summary kept in the mood log.
type MoodEntry struct {
	Date       string            `json:"date"`
	Timestamp  time.Time         `json:"timestamp"`
	Tier       int               `json:"tier"`
	Score      int               `json:"score"`
	Categories []EmotionCategory `json:"categories"`
	Weather    *OutdoorWeather   `json:"weather,omitempty"`
}

// LastSession remembers the previous interview for the opening prompt.
type LastSession struct {
	Location string `json:"location"`
	Work     string `json:"work"`
	Date     string `json:"date"`
}
