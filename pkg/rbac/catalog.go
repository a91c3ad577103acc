package rbac

import (
	"github.com/platinummonkey/hiregate/pkg/auth"
)

// catalogNamespace lists the actions seeded for one resource.
type catalogNamespace struct {
	namespace string
	actions   []string
}

// defaultCatalog is the fixed set of permissions created by seeding.
var defaultCatalog = []catalogNamespace{
	{"dashboard", []string{"view"}},
	{"candidates", []string{"view", "create", "edit", "delete", "export"}},
	{"jobs", []string{"view", "create", "edit", "delete", "publish"}},
	{"settings", []string{"view", "edit"}},
	{"companies", []string{"view", "create", "edit", "delete"}},
	{"recruiters", []string{"view", "create", "edit", "delete"}},
	{"teams", []string{"view", "create", "edit", "delete"}},
	{"documents", []string{"view", "upload", "delete"}},
	{"interviews", []string{"view", "schedule", "edit", "cancel"}},
	{"communications", []string{"view", "send"}},
	{"analytics", []string{"view", "export"}},
	{"onboarding", []string{"view", "manage"}},
	{"task_template", []string{"view", "create", "edit", "delete"}},
	{"onboarding_task", []string{"view", "create", "edit", "complete"}},
	{"onboarding_template", []string{"view", "create", "edit"}},
	{"onboarding_document", []string{"view", "upload", "review"}},
	{"new_hire", []string{"view", "edit"}},
}

// onboardingGrants is bulk-granted to the onboarding roles during seeding.
var onboardingGrants = []string{
	"onboarding.view",
	"onboarding.manage",
	"task_template.view",
	"task_template.create",
	"task_template.edit",
	"onboarding_task.view",
	"onboarding_task.create",
	"onboarding_task.edit",
	"onboarding_task.complete",
	"onboarding_template.view",
	"onboarding_template.create",
	"onboarding_template.edit",
	"onboarding_document.view",
	"onboarding_document.upload",
	"onboarding_document.review",
	"new_hire.view",
	"new_hire.edit",
}

var onboardingRoles = []auth.Role{auth.RoleAdmin, auth.RoleManager, auth.RoleRecruiter}

// DefaultPermissions returns the names created by seeding, grouped by
// namespace.
func DefaultPermissions() []string {
	var names []string
	for _, ns := range defaultCatalog {
		for _, action := range ns.actions {
			names = append(names, ns.namespace+"."+action)
		}
	}
	return names
}

// DefaultNamespaces returns the namespaces of the default catalog.
func DefaultNamespaces() []string {
	namespaces := make([]string, 0, len(defaultCatalog))
	for _, ns := range defaultCatalog {
		namespaces = append(namespaces, ns.namespace)
	}
	return namespaces
}

// OnboardingGrants returns the permissions granted to OnboardingRoles by
// seeding.
func OnboardingGrants() []string {
	return append([]string(nil), onboardingGrants...)
}

// OnboardingRoles returns the roles that receive OnboardingGrants.
func OnboardingRoles() []auth.Role {
	return append([]auth.Role(nil), onboardingRoles...)
}

// SettingsRoles are the roles editable through the bulk settings screen.
func SettingsRoles() []auth.Role {
	return []auth.Role{auth.RoleAdmin, auth.RoleManager, auth.RoleRecruiter, auth.RoleUser}
}

func isSettingsRole(role auth.Role) bool {
	for _, r := range SettingsRoles() {
		if r == role {
			return true
		}
	}
	return false
}
