// internal/policy/rules.go
package policy

import (
	"github.com/healthledger/attestation-service/internal/models"
)

// Rule grants Actions on Kind to callers holding Role when When holds.
// An empty Role matches any caller.
type Rule struct {
	Name    string
	Role    models.Role
	Kind    ResourceKind
	Actions []Action
	When    func(Caller, Resource) bool
}

func (r Rule) matches(c Caller, action Action, res Resource) bool {
	if r.Role != "" && !c.HasRole(r.Role) {
		return false
	}
	if r.Kind != res.Kind {
		return false
	}
	found := false
	for _, a := range r.Actions {
		if a == action {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	return r.When == nil || r.When(c, res)
}

func ownedByCaller(c Caller, res Resource) bool {
	return res.OwnerOrgID != "" && res.OwnerOrgID == c.OrgID
}

var recordActions = []Action{
	ActionRecordCreate, ActionRecordRead, ActionRecordReadAnonymized, ActionRecordUpdate,
	ActionRecordHistory, ActionRecordExport, ActionConsentUpdate,
}

// DefaultRules is evaluated in order; the first matching rule allows.
var DefaultRules = []Rule{
	{
		Name:    "government-records",
		Role:    models.RoleGovernment,
		Kind:    ResourceRecord,
		Actions: recordActions,
	},
	{
		Name:    "government-alerts",
		Role:    models.RoleGovernment,
		Kind:    ResourceAlert,
		Actions: []Action{ActionAlertCreate, ActionAlertResolve, ActionAlertRead},
	},
	{
		Name:    "government-owner-query",
		Role:    models.RoleGovernment,
		Kind:    ResourceOrganization,
		Actions: []Action{ActionRecordQueryOwner},
	},
	{
		Name:    "hospital-own-records",
		Role:    models.RoleHospital,
		Kind:    ResourceRecord,
		Actions: recordActions,
		When:    ownedByCaller,
	},
	{
		Name:    "hospital-own-query",
		Role:    models.RoleHospital,
		Kind:    ResourceOrganization,
		Actions: []Action{ActionRecordQueryOwner},
		When:    ownedByCaller,
	},
	{
		Name:    "hospital-alert-create",
		Role:    models.RoleHospital,
		Kind:    ResourceAlert,
		Actions: []Action{ActionAlertCreate},
	},
	{
		Name:    "hospital-alert-resolve-own",
		Role:    models.RoleHospital,
		Kind:    ResourceAlert,
		Actions: []Action{ActionAlertResolve},
		When:    ownedByCaller,
	},
	{
		Name:    "research-anonymized-consented",
		Role:    models.RoleResearch,
		Kind:    ResourceRecord,
		Actions: []Action{ActionRecordReadAnonymized},
		When: func(_ Caller, res Resource) bool {
			return res.Consent && res.AccessLevel != models.AccessLevelHighlyRestricted
		},
	},
	{
		Name:    "insurance-flagged",
		Role:    models.RoleInsurance,
		Kind:    ResourceRecord,
		Actions: []Action{ActionRecordRead},
		When: func(_ Caller, res Resource) bool {
			return res.AccessLevel == models.AccessLevelInsuranceAccessible
		},
	},
	{
		Name:    "alerts-readable",
		Kind:    ResourceAlert,
		Actions: []Action{ActionAlertRead},
	},
}

type Engine struct {
	rules []Rule
}

func NewEngine(rules []Rule) *Engine {
	return &Engine{rules: rules}
}

// Authorize returns the decision of the first matching rule, or a deny with
// ReasonInsufficientRole.
func (e *Engine) Authorize(c Caller, action Action, res Resource) Decision {
	for _, r := range e.rules {
		if r.matches(c, action, res) {
			return allow(r.Name)
		}
	}
	return deny()
}

var defaultEngine = NewEngine(DefaultRules)

func Authorize(c Caller, action Action, res Resource) Decision {
	return defaultEngine.Authorize(c, action, res)
}
