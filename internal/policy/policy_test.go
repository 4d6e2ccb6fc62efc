package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/healthledger/attestation-service/internal/models"
)

var (
	gov       = Caller{OrgID: "moh", Roles: []models.Role{models.RoleGovernment}}
	hospitalA = Caller{OrgID: "hospital-a", Roles: []models.Role{models.RoleHospital}}
	hospitalB = Caller{OrgID: "hospital-b", Roles: []models.Role{models.RoleHospital}}
	research  = Caller{OrgID: "uni-lab", Roles: []models.Role{models.RoleResearch}}
	insurer   = Caller{OrgID: "insure-co", Roles: []models.Role{models.RoleInsurance}}
	platform  = Caller{OrgID: "platform", Roles: []models.Role{models.RolePlatform}}
)

func record(consent bool, level models.AccessLevel) Resource {
	return RecordResource(&models.HealthRecord{
		RecordID:    "R1",
		OwnerOrgID:  "hospital-a",
		Consent:     consent,
		AccessLevel: level,
	})
}

func TestAuthorizeRecords(t *testing.T) {
	cases := []struct {
		name   string
		caller Caller
		action Action
		res    Resource
		allow  bool
	}{
		{"government reads any record", gov, ActionRecordRead, record(false, models.AccessLevelHighlyRestricted), true},
		{"government updates consent", gov, ActionConsentUpdate, record(false, models.AccessLevelRestricted), true},
		{"owner hospital reads", hospitalA, ActionRecordRead, record(false, models.AccessLevelRestricted), true},
		{"owner hospital updates consent", hospitalA, ActionConsentUpdate, record(false, models.AccessLevelRestricted), true},
		{"other hospital cannot read", hospitalB, ActionRecordRead, record(true, models.AccessLevelPublic), false},
		{"other hospital cannot update consent", hospitalB, ActionConsentUpdate, record(true, models.AccessLevelPublic), false},
		{"research anonymized with consent", research, ActionRecordReadAnonymized, record(true, models.AccessLevelRestricted), true},
		{"research anonymized without consent", research, ActionRecordReadAnonymized, record(false, models.AccessLevelRestricted), false},
		{"research anonymized highly restricted", research, ActionRecordReadAnonymized, record(true, models.AccessLevelHighlyRestricted), false},
		{"research never reads raw", research, ActionRecordRead, record(true, models.AccessLevelPublic), false},
		{"research cannot update consent", research, ActionConsentUpdate, record(true, models.AccessLevelPublic), false},
		{"insurance reads flagged", insurer, ActionRecordRead, record(false, models.AccessLevelInsuranceAccessible), true},
		{"insurance denied unflagged", insurer, ActionRecordRead, record(true, models.AccessLevelPublic), false},
		{"insurance cannot update consent", insurer, ActionConsentUpdate, record(true, models.AccessLevelInsuranceAccessible), false},
		{"platform has no record access", platform, ActionRecordRead, record(true, models.AccessLevelPublic), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Authorize(tc.caller, tc.action, tc.res)
			assert.Equal(t, tc.allow, d.Allowed)
			if !tc.allow {
				assert.Equal(t, ReasonInsufficientRole, d.Reason)
			} else {
				assert.NotEmpty(t, d.Rule)
			}
		})
	}
}

func TestAuthorizeAlerts(t *testing.T) {
	alert := AlertResource(&models.OutbreakAlert{CreatorOrgID: "hospital-a"})

	assert.True(t, Authorize(hospitalA, ActionAlertCreate, alert).Allowed)
	assert.True(t, Authorize(gov, ActionAlertCreate, alert).Allowed)
	assert.False(t, Authorize(research, ActionAlertCreate, alert).Allowed)
	assert.False(t, Authorize(insurer, ActionAlertCreate, alert).Allowed)

	assert.True(t, Authorize(hospitalA, ActionAlertResolve, alert).Allowed)
	assert.False(t, Authorize(hospitalB, ActionAlertResolve, alert).Allowed)
	assert.True(t, Authorize(gov, ActionAlertResolve, alert).Allowed)

	assert.True(t, Authorize(research, ActionAlertRead, alert).Allowed)
}

func TestAuthorizeOwnerQuery(t *testing.T) {
	assert.True(t, Authorize(hospitalA, ActionRecordQueryOwner, OrganizationResource("hospital-a")).Allowed)
	assert.False(t, Authorize(hospitalA, ActionRecordQueryOwner, OrganizationResource("hospital-b")).Allowed)
	assert.True(t, Authorize(gov, ActionRecordQueryOwner, OrganizationResource("hospital-b")).Allowed)
	assert.False(t, Authorize(research, ActionRecordQueryOwner, OrganizationResource("uni-lab")).Allowed)
}

func TestFirstMatchWins(t *testing.T) {
	both := Caller{OrgID: "hospital-a", Roles: []models.Role{models.RoleHospital, models.RoleGovernment}}
	d := Authorize(both, ActionRecordRead, record(false, models.AccessLevelRestricted))
	assert.True(t, d.Allowed)
	assert.Equal(t, "government-records", d.Rule)
}

func TestAuthorizeIsDeterministic(t *testing.T) {
	res := record(true, models.AccessLevelRestricted)
	first := Authorize(research, ActionRecordReadAnonymized, res)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Authorize(research, ActionRecordReadAnonymized, res))
	}
}

func TestCustomEngineDefaultsToDeny(t *testing.T) {
	e := NewEngine(nil)
	d := e.Authorize(gov, ActionRecordRead, record(true, models.AccessLevelPublic))
	assert.False(t, d.Allowed)
	assert.Equal(t, ReasonInsufficientRole, d.Reason)
}

func TestHasCapability(t *testing.T) {
	c := Caller{Capabilities: []models.Capability{models.CapabilityRewardsAuthority}}
	assert.True(t, HasCapability(c, models.CapabilityRewardsAuthority))
	assert.False(t, HasCapability(c, models.CapabilityMarketplaceAuthority))
}
