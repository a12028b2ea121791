package recipients

import "github.com/mailpilot/mailpilot/internal/model"

// ManualFields are the columns of the manual entry form
var ManualFields = []string{"email", "name", "company", "role", "custom_note"}

// ManualEntry is one row typed into the dashboard form
type ManualEntry struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Company    string `json:"company"`
	Role       string `json:"role"`
	CustomNote string `json:"custom_note"`
}

// FromManual validates form rows and keeps only non-empty fields
func FromManual(entries []ManualEntry) Result {
	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{e.Email, e.Name, e.Company, e.Role, e.CustomNote})
	}
	return FromRows(ManualFields, rows)
}

// Merge appends add to existing, skipping addresses already present
func Merge(existing, add []model.Recipient) []model.Recipient {
	out := make([]model.Recipient, 0, len(existing)+len(add))
	seen := make(map[string]struct{}, len(existing)+len(add))
	for _, list := range [][]model.Recipient{existing, add} {
		for _, r := range list {
			key := r.Key()
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, r)
		}
	}
	return out
}
