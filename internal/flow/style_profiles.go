package flow

import "github.com/BTreeMap/ElicitPipe/internal/models"

// PromptModifiers shape how a question-generation prompt is written.
type PromptModifiers struct {
	Tone        string   `json:"tone"`
	Structure   string   `json:"structure"`
	Focus       string   `json:"focus"`
	Constraints []string `json:"constraints,omitempty"`
}

// StyleCharacteristics are the dials and prompt modifiers of one style.
type StyleCharacteristics struct {
	Name              models.StyleProfile `json:"name"`
	Complexity        string              `json:"complexity"`
	Pace              string              `json:"pace"`
	Terminology       string              `json:"terminology"`
	Depth             string              `json:"depth"`
	ExampleDensity    string              `json:"exampleDensity"`
	AssumptionDensity string              `json:"assumptionDensity"`
	Modifiers         PromptModifiers     `json:"modifiers"`
	// Temperature is the generation temperature used for this style's questions.
	Temperature float64 `json:"temperature"`
	// TargetSophistication is the composite score the style is pitched at.
	TargetSophistication float64 `json:"targetSophistication"`
}

// StyleFor returns the characteristics of a style profile.
func StyleFor(s models.StyleProfile) (StyleCharacteristics, error) {
	switch s {
	case models.StyleNoviceFriendly:
		return StyleCharacteristics{
			Name: s, Complexity: "low", Pace: "slow", Terminology: "plain", Depth: "surface",
			ExampleDensity: "high", AssumptionDensity: "low",
			Modifiers: PromptModifiers{
				Tone:        "warm and encouraging",
				Structure:   "one simple question with a short explanation of why it matters",
				Focus:       "the user's goals and everyday experience",
				Constraints: []string{"avoid jargon", "offer two or three concrete examples", "keep it under 40 words"},
			},
			Temperature: 0.5, TargetSophistication: 0.2,
		}, nil
	case models.StyleIntermediateGuided:
		return StyleCharacteristics{
			Name: s, Complexity: "moderate", Pace: "steady", Terminology: "light technical", Depth: "moderate",
			ExampleDensity: "medium", AssumptionDensity: "medium",
			Modifiers: PromptModifiers{
				Tone:        "friendly and guiding",
				Structure:   "a focused question with optional multiple-choice hints",
				Focus:       "workflows and priorities",
				Constraints: []string{"define any technical term you use", "offer one example"},
			},
			Temperature: 0.6, TargetSophistication: 0.5,
		}, nil
	case models.StyleAdvancedTechnical:
		return StyleCharacteristics{
			Name: s, Complexity: "high", Pace: "brisk", Terminology: "technical", Depth: "deep",
			ExampleDensity: "low", AssumptionDensity: "medium",
			Modifiers: PromptModifiers{
				Tone:        "collegial and precise",
				Structure:   "a direct question about trade-offs or constraints",
				Focus:       "architecture, integrations and non-functional requirements",
				Constraints: []string{"use standard industry terminology", "skip basic explanations"},
			},
			Temperature: 0.5, TargetSophistication: 0.7,
		}, nil
	case models.StyleExpertEfficient:
		return StyleCharacteristics{
			Name: s, Complexity: "high", Pace: "fast", Terminology: "expert", Depth: "targeted",
			ExampleDensity: "none", AssumptionDensity: "high",
			Modifiers: PromptModifiers{
				Tone:        "concise and respectful of expertise",
				Structure:   "one compact question, optionally stating an assumption to confirm",
				Focus:       "decisions only the user can make",
				Constraints: []string{"no examples", "no explanations", "one sentence"},
			},
			Temperature: 0.4, TargetSophistication: 0.9,
		}, nil
	case models.StyleImpatientAccelerated:
		return StyleCharacteristics{
			Name: s, Complexity: "low", Pace: "very fast", Terminology: "plain", Depth: "minimal",
			ExampleDensity: "none", AssumptionDensity: "very high",
			Modifiers: PromptModifiers{
				Tone:        "brisk and action-oriented",
				Structure:   "a yes/no or pick-one confirmation of a proposed default",
				Focus:       "the single blocking decision",
				Constraints: []string{"propose a default the user can accept", "under 20 words"},
			},
			Temperature: 0.3, TargetSophistication: 0.6,
		}, nil
	case models.StyleConfusedSupportive:
		return StyleCharacteristics{
			Name: s, Complexity: "very low", Pace: "slow", Terminology: "plain", Depth: "surface",
			ExampleDensity: "very high", AssumptionDensity: "low",
			Modifiers: PromptModifiers{
				Tone:        "patient and reassuring",
				Structure:   "rephrase the previous question more simply, with examples",
				Focus:       "the point of confusion",
				Constraints: []string{"acknowledge the question was unclear", "no jargon", "give concrete examples"},
			},
			Temperature: 0.3, TargetSophistication: 0.3,
		}, nil
	case models.StyleCollaborativeExploratory:
		return StyleCharacteristics{
			Name: s, Complexity: "moderate", Pace: "relaxed", Terminology: "adaptive", Depth: "exploratory",
			ExampleDensity: "medium", AssumptionDensity: "medium",
			Modifiers: PromptModifiers{
				Tone:        "curious and collaborative",
				Structure:   "an open question that invites the user to think aloud",
				Focus:       "possibilities and what would make the product exciting",
				Constraints: []string{"build on the user's previous ideas"},
			},
			Temperature: 0.8, TargetSophistication: 0.7,
		}, nil
	}
	return StyleCharacteristics{}, models.NewConfigurationError(string(s), models.ErrUnknownStyle)
}

// TemperatureFor returns the generation temperature hint for a style.
func TemperatureFor(s models.StyleProfile) (float64, error) {
	c, err := StyleFor(s)
	if err != nil {
		return 0, err
	}
	return c.Temperature, nil
}
