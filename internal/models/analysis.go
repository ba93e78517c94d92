package models

import "time"

// Analysis is the structured reply of the vision model plus request context.
type Analysis struct {
	Problem          string   `json:"problem"`
	ProblemCategory  string   `json:"problemCategory"`
	Severity         string   `json:"severity"`
	Confidence       float64  `json:"confidence"`
	Symptoms         []string `json:"symptoms"`
	Recommendations  []string `json:"recommendations"`
	DetailedAnalysis string   `json:"detailedAnalysis"`
	PossibleCauses   []string `json:"possibleCauses"`
	NextSteps        []string `json:"nextSteps"`

	AnalyzedAt time.Time `json:"analyzedAt"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	ImageURLs  []string  `json:"imageUrls,omitempty"`
	Metadata   *Metadata `json:"metadata"`
	TokensUsed int       `json:"tokensUsed"`
}
