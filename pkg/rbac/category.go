package rbac

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category is a presentation bucket on the settings screen. It has no
// bearing on enforcement.
type Category string

const (
	CategoryDashboard      Category = "Dashboard"
	CategoryCandidates     Category = "Candidates"
	CategoryJobs           Category = "Jobs"
	CategorySettings       Category = "Settings"
	CategoryCompanies      Category = "Companies"
	CategoryRecruiters     Category = "Recruiters"
	CategoryTeams          Category = "Teams"
	CategoryDocuments      Category = "Documents"
	CategoryInterviews     Category = "Interviews"
	CategoryCommunications Category = "Communications"
	CategoryAnalytics      Category = "Analytics"
	CategoryOnboarding     Category = "Onboarding"
)

// namespaceCategories maps every permission namespace to its bucket.
// Namespaces missing here cannot be granted.
var namespaceCategories = map[string]Category{
	"dashboard":      CategoryDashboard,
	"candidates":     CategoryCandidates,
	"jobs":           CategoryJobs,
	"settings":       CategorySettings,
	"companies":      CategoryCompanies,
	"recruiters":     CategoryRecruiters,
	"teams":          CategoryTeams,
	"documents":      CategoryDocuments,
	"interviews":     CategoryInterviews,
	"communications": CategoryCommunications,
	"analytics":      CategoryAnalytics,

	"onboarding":          CategoryOnboarding,
	"task_template":       CategoryOnboarding,
	"onboarding_task":     CategoryOnboarding,
	"onboarding_template": CategoryOnboarding,
	"onboarding_document": CategoryOnboarding,
	"new_hire":            CategoryOnboarding,
	"new_hire_task":       CategoryOnboarding,
	"new_hire_document":   CategoryOnboarding,
}

// CategoryFor returns the bucket of a namespace.
func CategoryFor(namespace string) (Category, bool) {
	category, ok := namespaceCategories[namespace]
	return category, ok
}

// ValidateCategories fails if any default catalog namespace has no bucket.
// It runs at startup.
func ValidateCategories() error {
	var missing []string
	for _, namespace := range DefaultNamespaces() {
		if _, ok := namespaceCategories[namespace]; !ok {
			missing = append(missing, namespace)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("permission namespaces without a category: %s", strings.Join(missing, ", "))
	}
	return nil
}

// CategoryEntry is one permission as shown on the settings screen.
type CategoryEntry struct {
	DisplayName string `json:"display_name"`
	Permission  string `json:"permission"`
}

// DisplayName renders "{Action} {Category}", e.g. "View Candidates" for
// candidates.view. ok is false for unmapped namespaces.
func DisplayName(p Permission) (string, bool) {
	category, ok := CategoryFor(p.Namespace())
	if !ok {
		return "", false
	}
	action := strings.ReplaceAll(p.Action(), "_", " ")
	return cases.Title(language.English).String(action) + " " + string(category), true
}

// Categorize groups permissions by bucket. Entries in each bucket are
// sorted by permission name. Permissions with unmapped namespaces are left
// out; see UnmappedPermissions.
func Categorize(permissions []Permission) map[Category][]CategoryEntry {
	result := make(map[Category][]CategoryEntry)
	for _, p := range permissions {
		display, ok := DisplayName(p)
		if !ok {
			continue
		}
		category := namespaceCategories[p.Namespace()]
		result[category] = append(result[category], CategoryEntry{DisplayName: display, Permission: p.Name})
	}
	for _, entries := range result {
		sort.Slice(entries, func(i, j int) bool { return entries[i].Permission < entries[j].Permission })
	}
	return result
}

// UnmappedPermissions returns the names Categorize leaves out.
func UnmappedPermissions(permissions []Permission) []string {
	var names []string
	for _, p := range permissions {
		if _, ok := CategoryFor(p.Namespace()); !ok {
			names = append(names, p.Name)
		}
	}
	return names
}
