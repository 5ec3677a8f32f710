// Package stepkey normalizes script step names so one logical step is recognized
// under every context prefix it is served with.
package stepkey

import "strings"

const (
	outboundPrefix = "outbound_"
	listIDPrefix   = "listid_"
)

// Base strips leading "outbound_" and "listid_<id>_" prefixes, in any order and
// any number of times. A name that would strip to nothing is returned unchanged.
func Base(stepName string) string {
	name := stepName
	for {
		next, ok := stripOne(name)
		if !ok || next == "" {
			break
		}
		name = next
	}
	if name == "" {
		return stepName
	}
	return name
}

func stripOne(name string) (string, bool) {
	if rest, ok := strings.CutPrefix(name, outboundPrefix); ok {
		return rest, true
	}
	if rest, ok := strings.CutPrefix(name, listIDPrefix); ok {
		id, tail, found := strings.Cut(rest, "_")
		if found && id != "" && isListID(id) {
			return tail, true
		}
	}
	return name, false
}

func isListID(id string) bool {
	for _, r := range id {
		if !(r >= '0' && r <= '9') && !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z') && r != '-' {
			return false
		}
	}
	return true
}

// Compatible reports whether two step names share a base step key.
func Compatible(a, b string) bool {
	return Base(a) == Base(b)
}

// HasListID reports whether the name already carries a list id prefix.
func HasListID(stepName string) bool {
	name := stepName
	for {
		next, ok := stripOne(name)
		if !ok {
			return false
		}
		if strings.HasPrefix(name, listIDPrefix) {
			return true
		}
		name = next
	}
}

// ForList returns the list specific name for a step.
func ForList(listID, stepName string) string {
	return listIDPrefix + listID + "_" + stepName
}

// Variants lists the literal step names to try, most specific first, when looking
// up a script for a lead. The list override comes first when the lead has a list id.
func Variants(stepName, listID string) []string {
	listID = strings.TrimSpace(listID)
	if listID == "" || !isListID(listID) || HasListID(stepName) {
		return []string{stepName}
	}
	return []string{ForList(listID, stepName), stepName}
}
