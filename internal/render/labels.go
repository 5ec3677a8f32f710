package render

// Label maps one or more token spellings to the lead fields that can fill it.
// Fields are tried in order; the first populated one wins.
type Label struct {
	Names  []string
	Fields []string
	// Join concatenates every populated field with Sep instead of taking the first.
	Join bool
	Sep  string
}

// DefaultLabels is the static label table, highest priority first.
var DefaultLabels = []Label{
	{Names: []string{"first name"}, Fields: []string{"first_name", "firstname", "fname"}},
	{Names: []string{"last name"}, Fields: []string{"last_name", "lastname", "lname"}},
	{Names: []string{"customer name", "full name"}, Fields: []string{"full_name", "customer_name", "name"}},
	{Names: []string{"phone", "phone number"}, Fields: []string{"phone_number", "phone", "alt_phone"}},
	{Names: []string{"email"}, Fields: []string{"email", "email_address"}},
	{Names: []string{"address"}, Fields: []string{"address1", "address", "street"}},
	{Names: []string{"city"}, Fields: []string{"city"}},
	{Names: []string{"state"}, Fields: []string{"state", "province"}},
	{Names: []string{"zip", "zip code", "postal code"}, Fields: []string{"postal_code", "zip", "zip_code"}},
	{Names: []string{"location"}, Fields: []string{"city", "state"}, Join: true, Sep: ", "},
	{Names: []string{"agent", "agent name"}, Fields: []string{"agent_name", "fullname", "user"}},
	{Names: []string{"campaign"}, Fields: []string{"campaign_name", "campaign", "campaign_id"}},
	{Names: []string{"company"}, Fields: []string{"company", "company_name", "business_name"}},
	{Names: []string{"list id"}, Fields: []string{"list_id"}},
	{Names: []string{"lead id"}, Fields: []string{"lead_id"}},
}

const customerNameLabel = "customer_name"

var customerNameFallback = []string{"first_name"}
