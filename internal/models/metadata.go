package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Gender values accepted on upload.
const (
	GenderFemale = "female"
	GenderMale   = "male"
	GenderOther  = "other"
)

// Metadata holds the patient-reported fields attached to an upload.
type Metadata struct {
	Age     *int   `json:"age,omitempty"`
	Gender  string `json:"gender,omitempty"`
	Problem string `json:"problem,omitempty"`
}

// IsEmpty reports whether no field is set.
func (m *Metadata) IsEmpty() bool {
	return m == nil || (m.Age == nil && m.Gender == "" && m.Problem == "")
}

// ValidGender reports whether g is one of the accepted gender values.
func ValidGender(g string) bool {
	switch g {
	case GenderFemale, GenderMale, GenderOther:
		return true
	}
	return false
}

// UnmarshalJSON accepts age as a number or a numeric string, since form
// inputs often arrive as text. An empty string means no age.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw struct {
		Age     json.RawMessage `json:"age"`
		Gender  string          `json:"gender"`
		Problem string          `json:"problem"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	m.Gender = strings.TrimSpace(raw.Gender)
	m.Problem = strings.TrimSpace(raw.Problem)
	m.Age = nil

	age := strings.TrimSpace(string(raw.Age))
	if age == "" || age == "null" || age == `""` {
		return nil
	}
	if unquoted, err := strconv.Unquote(age); err == nil {
		age = strings.TrimSpace(unquoted)
		if age == "" {
			return nil
		}
	}
	v, err := strconv.Atoi(age)
	if err != nil {
		return fmt.Errorf("age: %q is not a whole number", age)
	}
	m.Age = &v
	return nil
}
