package render

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"callscript/internal/lead"
)

func fixedEngine(t *testing.T, hour, minute int) *Engine {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	at := time.Date(2024, 3, 15, hour, minute, 0, 0, loc)
	// The clock reports UTC; the engine must convert to the reference zone.
	return New(WithLocation(loc), WithClock(func() time.Time { return at.UTC() }))
}

func TestRenderFirstName(t *testing.T) {
	e := fixedEngine(t, 9, 0)
	got := e.Render("Hi [First Name], calling about your account.", lead.Parse("first_name=Sam"))
	assert.Equal(t, "Hi Sam, calling about your account.", got)
}

func TestDaypartBoundaries(t *testing.T) {
	cases := []struct {
		hour, minute int
		want         string
	}{
		{0, 0, "evening"},
		{4, 59, "evening"},
		{5, 0, "morning"},
		{11, 59, "morning"},
		{12, 0, "afternoon"},
		{16, 59, "afternoon"},
		{17, 0, "evening"},
		{23, 59, "evening"},
	}
	for _, tc := range cases {
		e := fixedEngine(t, tc.hour, tc.minute)
		got := e.Render("Good [Time of Day]!", lead.Context{})
		assert.Equal(t, "Good "+tc.want+"!", got, "%02d:%02d", tc.hour, tc.minute)
	}
}

func TestDaypartTokenIsCaseInsensitive(t *testing.T) {
	e := fixedEngine(t, 13, 30)
	assert.Equal(t, "afternoon / afternoon", e.Render("[time of day] / [TIME OF DAY]", lead.Context{}))
}

func TestUnresolvedTokensAreUntouched(t *testing.T) {
	e := fixedEngine(t, 9, 0)
	templates := []string{
		"Ask about [Warranty Plan] before closing.",
		"[ ] empty and [First  Name ] spaced",
		"nested [[Policy]] and unclosed [Policy",
	}
	for _, tmpl := range templates {
		assert.Equal(t, tmpl, e.Render(tmpl, lead.Parse("last_name=Rivera")))
	}
}

func TestResolutionOrder(t *testing.T) {
	e := fixedEngine(t, 9, 0)
	ctx := lead.Parse("vendor_city_code=X1&city=Salem&state=OR&policy_number=P-77&fullname=Jordan%20Agent&first_name=Sam")

	cases := map[string]string{
		"[City]":          "Salem",
		"[Location]":      "Salem, OR",
		"[Agent Name]":    "Jordan Agent",
		"[Policy Number]": "P-77",
		"[policy]":        "P-77",
		"[Customer Name]": "Sam",
		"[code]":          "X1",
	}
	for tmpl, want := range cases {
		assert.Equal(t, want, e.Render(tmpl, ctx), tmpl)
	}
}

func TestStaticTablePrefersFirstPopulatedField(t *testing.T) {
	e := fixedEngine(t, 9, 0)
	ctx := lead.Parse("phone=555-0100&phone_number=555-0199")
	assert.Equal(t, "555-0199", e.Render("[Phone]", ctx))

	ctx = lead.Parse("phone=555-0100")
	assert.Equal(t, "555-0100", e.Render("[Phone Number]", ctx))
}

func TestCustomerNamePrefersFullName(t *testing.T) {
	e := fixedEngine(t, 9, 0)
	ctx := lead.Parse("first_name=Sam&full_name=Sam%20Rivera")
	assert.Equal(t, "Sam Rivera", e.Render("[customer name]", ctx))
}

func TestWithLabelsReplacesTable(t *testing.T) {
	e := New(WithLabels([]Label{{Names: []string{"first name"}, Fields: []string{"nickname"}}}))
	ctx := lead.Parse("nickname=Sammy&first_name=Samantha")
	assert.Equal(t, "Sammy", e.Render("[First Name]", ctx))
}

func TestValuesAreNotRescanned(t *testing.T) {
	e := fixedEngine(t, 9, 0)
	ctx := lead.Parse("first_name=%5BLast%20Name%5D%20Jr&last_name=Rivera")
	// "[Last Name] Jr" is a placeholder-shaped value only at the start, so it survives parsing.
	assert.Equal(t, "Hi [Last Name] Jr", e.Render("Hi [First Name]", ctx))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "first_name", normalize(" First Name "))
	assert.Equal(t, "first_name", normalize("first-name"))
	assert.Equal(t, "list_id", normalize("List ID"))
	assert.Equal(t, "", normalize("  "))
}

func TestDaypartHelper(t *testing.T) {
	assert.Equal(t, "morning", Daypart(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)))
	assert.Equal(t, "afternoon", Daypart(time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "evening", Daypart(time.Date(2024, 1, 1, 17, 0, 0, 0, time.UTC)))
}
