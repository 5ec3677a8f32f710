// Package candidates merges a step's base script, global alternatives and
// submissions into the ordered list an agent cycles through.
package candidates

import (
	"sort"
	"strings"
)

type Origin string

const (
	OriginOriginal    Origin = "original"
	OriginAlternative Origin = "alternative"
	OriginSubmission  Origin = "submission"
)

// OriginalID is the id of the base script candidate.
const OriginalID = "original"

type Alternative struct {
	ID    string
	Text  string
	Order int
}

type Submission struct {
	ID          string
	Text        string
	Order       int
	SubmittedBy string
	Status      string
}

type Input struct {
	Base         string
	Alternatives []Alternative
	Approved     []Submission
	// Own holds the viewing agent's submissions in any status.
	Own []Submission
}

type Candidate struct {
	ID          string `json:"id"`
	Text        string `json:"text"`
	Origin      Origin `json:"origin"`
	Order       int    `json:"order"`
	SubmittedBy string `json:"submittedBy,omitempty"`
	Status      string `json:"status,omitempty"`
}

// Build returns base, then alternatives, then approved submissions, then the
// agent's own submissions that are not approved ones. Each group is sorted by
// order, keeping input order on ties. Alternatives whose trimmed text matches an
// approved submission are dropped so promoted text shows once.
func Build(in Input) []Candidate {
	out := make([]Candidate, 0, 1+len(in.Alternatives)+len(in.Approved)+len(in.Own))

	if base := strings.TrimSpace(in.Base); base != "" {
		out = append(out, Candidate{ID: OriginalID, Text: in.Base, Origin: OriginOriginal})
	}

	approvedText := make(map[string]struct{}, len(in.Approved))
	approvedIDs := make(map[string]struct{}, len(in.Approved))
	for _, s := range in.Approved {
		approvedText[strings.TrimSpace(s.Text)] = struct{}{}
		approvedIDs[s.ID] = struct{}{}
	}

	alts := make([]Alternative, 0, len(in.Alternatives))
	for _, a := range in.Alternatives {
		text := strings.TrimSpace(a.Text)
		if text == "" {
			continue
		}
		if _, dup := approvedText[text]; dup {
			continue
		}
		alts = append(alts, a)
	}
	sort.SliceStable(alts, func(i, j int) bool { return alts[i].Order < alts[j].Order })
	for _, a := range alts {
		out = append(out, Candidate{ID: "alt:" + a.ID, Text: a.Text, Origin: OriginAlternative, Order: a.Order})
	}

	out = appendSubmissions(out, in.Approved, nil)
	out = appendSubmissions(out, in.Own, approvedIDs)
	return out
}

func appendSubmissions(out []Candidate, subs []Submission, skip map[string]struct{}) []Candidate {
	kept := make([]Submission, 0, len(subs))
	for _, s := range subs {
		if strings.TrimSpace(s.Text) == "" {
			continue
		}
		if _, ok := skip[s.ID]; ok {
			continue
		}
		kept = append(kept, s)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Order < kept[j].Order })
	for _, s := range kept {
		out = append(out, Candidate{
			ID:          "sub:" + s.ID,
			Text:        s.Text,
			Origin:      OriginSubmission,
			Order:       s.Order,
			SubmittedBy: s.SubmittedBy,
			Status:      s.Status,
		})
	}
	return out
}

func Texts(list []Candidate) []string {
	out := make([]string, len(list))
	for i, c := range list {
		out[i] = c.Text
	}
	return out
}

// Clamp pins index into [0, length-1]. It returns 0 for an empty list.
func Clamp(index, length int) int {
	if length <= 0 || index < 0 {
		return 0
	}
	if index >= length {
		return length - 1
	}
	return index
}
