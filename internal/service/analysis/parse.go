package analysis

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"scalpscan/internal/models"
)

var fenceReplacer = strings.NewReplacer("```json\n", "", "```json", "", "```\n", "", "```", "")

// reply is the model's JSON object. Models do not always respect the
// requested types, so confidence and the lists are decoded leniently.
type reply struct {
	Problem          string      `json:"problem"`
	ProblemCategory  string      `json:"problemCategory"`
	Severity         string      `json:"severity"`
	Confidence       looseNumber `json:"confidence"`
	Symptoms         looseList   `json:"symptoms"`
	Recommendations  looseList   `json:"recommendations"`
	DetailedAnalysis string      `json:"detailedAnalysis"`
	PossibleCauses   looseList   `json:"possibleCauses"`
	NextSteps        looseList   `json:"nextSteps"`
}

// looseNumber accepts 85, "85" and "85%".
type looseNumber float64

func (n *looseNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] != '"' {
		var f float64
		if err := json.Unmarshal(data, &f); err != nil {
			return err
		}
		*n = looseNumber(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", "."), 64)
	if err != nil {
		return fmt.Errorf("confidence %q is not a number", s)
	}
	*n = looseNumber(f)
	return nil
}

// looseList accepts a list of scalars or a single string.
type looseList []string

func (l *looseList) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case nil:
		*l = nil
	case string:
		if s := strings.TrimSpace(t); s != "" {
			*l = looseList{s}
		}
	case []any:
		out := make(looseList, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case nil:
			case string:
				out = append(out, it)
			case float64, bool:
				out = append(out, fmt.Sprint(it))
			default:
				return fmt.Errorf("unexpected list item %T", item)
			}
		}
		*l = out
	default:
		return fmt.Errorf("expected a list, got %T", v)
	}
	return nil
}

// parseReply strips markdown code fences and decodes the JSON object.
func parseReply(raw string) (*models.Analysis, error) {
	cleaned := strings.TrimSpace(fenceReplacer.Replace(strings.TrimSpace(raw)))
	var r reply
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	return &models.Analysis{
		Problem:          r.Problem,
		ProblemCategory:  r.ProblemCategory,
		Severity:         r.Severity,
		Confidence:       float64(r.Confidence),
		Symptoms:         r.Symptoms,
		Recommendations:  r.Recommendations,
		DetailedAnalysis: r.DetailedAnalysis,
		PossibleCauses:   r.PossibleCauses,
		NextSteps:        r.NextSteps,
	}, nil
}
