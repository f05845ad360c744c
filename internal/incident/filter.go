package incident

import "strings"

// Filter is the parsed form of the table's opaque filter expression:
// whitespace-separated tokens, each either key:value (severity, status,
// service, source, assignee) or a free-text term matched against the
// summary. All tokens must match. Stores share this grammar so a page
// fetched from memory and one fetched from Postgres agree.
type Filter struct {
	Severity  string
	Status    string
	Service   string
	Source    string
	Assignee  string
	FreeTerms []string
}

// ParseFilter parses a filter expression. Unknown keys degrade to free-text
// terms instead of erroring; the table never rejects a filter.
func ParseFilter(expr string) Filter {
	var f Filter
	for _, tok := range strings.Fields(expr) {
		key, val, ok := strings.Cut(tok, ":")
		if !ok {
			f.FreeTerms = append(f.FreeTerms, strings.ToLower(tok))
			continue
		}
		val = strings.ToLower(val)
		switch strings.ToLower(key) {
		case "severity":
			f.Severity = val
		case "status":
			f.Status = val
		case "service":
			f.Service = val
		case "source":
			f.Source = val
		case "assignee":
			f.Assignee = val
		default:
			f.FreeTerms = append(f.FreeTerms, strings.ToLower(tok))
		}
	}
	return f
}

// Match reports whether the incident satisfies every clause. Merged and
// deleted incidents are hidden unless the filter names their status.
func (f Filter) Match(inc *Incident) bool {
	if f.Status == "" {
		if inc.Status == StatusMerged || inc.Status == StatusDeleted {
			return false
		}
	} else if string(inc.Status) != f.Status {
		return false
	}
	if f.Severity != "" && string(inc.Severity) != f.Severity {
		return false
	}
	if f.Assignee != "" && strings.ToLower(inc.Assignee) != f.Assignee {
		return false
	}
	if f.Service != "" && !containsFold(inc.Services, f.Service) {
		return false
	}
	if f.Source != "" && !containsFold(inc.AlertSources, f.Source) {
		return false
	}
	summary := strings.ToLower(inc.Summary())
	for _, term := range f.FreeTerms {
		if !strings.Contains(summary, term) {
			return false
		}
	}
	return true
}

func containsFold(list []string, want string) bool {
	for _, v := range list {
		if strings.ToLower(v) == want {
			return true
		}
	}
	return false
}
