// Package keycodec builds and parses object storage keys that carry upload
// metadata (session, case, upload time, original file name and the patient
// fields) inside the key itself.
//
// Key layout:
//
//	<sessionId>/[case_<digits>_]<unixMillis>_<baseName>[_META_<parts>_][.<ext>]
//
// where parts are age<n>, gender<raw> and problem<encoded>, in that order.
package keycodec

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"scalpscan/internal/models"
)

const (
	metaMarker       = "_META_"
	partAge          = "age"
	partGender       = "gender"
	partProblem      = "problem"
	maxProblemLength = 50
)

var (
	casePrefixRe = regexp.MustCompile(`^(case_\d+)_`)
	caseIDRe     = regexp.MustCompile(`^case_\d+$`)
	timestampRe  = regexp.MustCompile(`^(\d+)_`)
	// non-greedy body, anchored to the underscore right before the extension
	metaSegmentRe = regexp.MustCompile(`_META_(.+?)_(\.[^.]*)?$`)
	whitespaceRe  = regexp.MustCompile(`\s+`)
)

const polishLetters = "ąćęłńóśźżĄĆĘŁŃÓŚŹŻ"

// Key is the input of Encode.
type Key struct {
	SessionID string
	CaseID    string
	Timestamp int64 // unix milliseconds
	FileName  string
	Metadata  *models.Metadata
}

// Decoded is everything Decode recovers from a storage key.
type Decoded struct {
	SessionID string
	CaseID    string
	Timestamp int64 // 0 when the key carries no timestamp
	FileName  string
	Metadata  *models.Metadata
}

// ValidCaseID reports whether id has the case_<digits> form.
func ValidCaseID(id string) bool {
	return caseIDRe.MatchString(id)
}

// Encode returns the storage key for k. A CaseID that is not of the
// case_<digits> form is left out of the key.
func Encode(k Key) string {
	base, ext := splitExt(k.FileName)

	var b strings.Builder
	b.WriteString(k.SessionID)
	b.WriteByte('/')
	if ValidCaseID(k.CaseID) {
		b.WriteString(k.CaseID)
		b.WriteByte('_')
	}
	b.WriteString(strconv.FormatInt(k.Timestamp, 10))
	b.WriteByte('_')
	b.WriteString(base)
	b.WriteString(metadataSegment(k.Metadata))
	if ext != "" {
		b.WriteByte('.')
		b.WriteString(ext)
	}
	return b.String()
}

// Decode parses a storage key. It never fails: unknown shapes degrade to a
// file name equal to the last path segment with no metadata.
func Decode(key string) Decoded {
	var d Decoded

	name := key
	if idx := strings.LastIndex(key, "/"); idx >= 0 {
		d.SessionID = key[:idx]
		name = key[idx+1:]
	}

	if m := casePrefixRe.FindStringSubmatch(name); m != nil {
		d.CaseID = m[1]
		name = name[len(m[0]):]
	}

	if m := timestampRe.FindStringSubmatch(name); m != nil {
		if ts, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			d.Timestamp = ts
		}
		name = name[len(m[0]):]
	}

	if loc := metaSegmentRe.FindStringSubmatchIndex(name); loc != nil {
		body := name[loc[2]:loc[3]]
		ext := ""
		if loc[4] >= 0 {
			ext = name[loc[4]:loc[5]]
		}
		d.Metadata = parseParts(body)
		name = name[:loc[0]] + ext
	}

	d.FileName = name
	return d
}

// EncodeProblem applies the lossy problem transform used inside keys.
func EncodeProblem(problem string) string {
	kept := strings.Map(func(r rune) rune {
		switch {
		case r < utf8.RuneSelf && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			return r
		case unicode.IsSpace(r):
			return ' '
		case strings.ContainsRune(polishLetters, r):
			return r
		}
		return -1
	}, problem)

	out := whitespaceRe.ReplaceAllString(strings.TrimSpace(kept), "_")
	if utf8.RuneCountInString(out) > maxProblemLength {
		out = string([]rune(out)[:maxProblemLength])
	}
	return strings.TrimRight(out, "_")
}

func metadataSegment(md *models.Metadata) string {
	if md == nil {
		return ""
	}
	parts := make([]string, 0, 3)
	if md.Age != nil && *md.Age >= 0 {
		parts = append(parts, partAge+strconv.Itoa(*md.Age))
	}
	if md.Gender != "" {
		parts = append(parts, partGender+md.Gender)
	}
	if p := EncodeProblem(md.Problem); p != "" {
		parts = append(parts, partProblem+p)
	}
	if len(parts) == 0 {
		return ""
	}
	return metaMarker + strings.Join(parts, "_") + "_"
}

func parseParts(body string) *models.Metadata {
	md := &models.Metadata{}
	tokens := strings.Split(body, "_")
	for i, tok := range tokens {
		switch {
		case strings.HasPrefix(tok, partProblem):
			// problem is always last and may itself contain underscores
			md.Problem = strings.Join(append([]string{strings.TrimPrefix(tok, partProblem)}, tokens[i+1:]...), "_")
			return md
		case strings.HasPrefix(tok, partGender):
			md.Gender = strings.TrimPrefix(tok, partGender)
		case strings.HasPrefix(tok, partAge):
			if age, err := strconv.Atoi(strings.TrimPrefix(tok, partAge)); err == nil && age >= 0 {
				md.Age = &age
			}
		}
	}
	return md
}

func splitExt(name string) (string, string) {
	idx := strings.LastIndex(name, ".")
	if idx < 0 {
		return name, ""
	}
	return name[:idx], name[idx+1:]
}
