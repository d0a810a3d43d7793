package models

import "time"

// Plan describes a purchasable subscription tier. Name and description are
// owned locally and pushed to the processor; price is mirrored for display but
// the processor remains the financial source of truth.
type Plan struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Name           string          `gorm:"type:varchar(150);not null" json:"name"`
	Description    string          `gorm:"type:text" json:"description"`
	ExternalPlanID string          `gorm:"type:varchar(191);uniqueIndex" json:"external_plan_id"`
	Price          float64         `gorm:"type:decimal(10,2);not null" json:"price"`
	Currency       string          `gorm:"type:varchar(3);not null;default:'USD'" json:"currency"`
	IntervalDays   int             `gorm:"not null;default:30" json:"interval_days"`
	TrialDays      int             `gorm:"not null;default:0" json:"trial_days"`
	IsActive       bool            `gorm:"default:true;index" json:"is_active"`
	Privileges     []PlanPrivilege `gorm:"foreignKey:PlanID" json:"privileges,omitempty"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// PlanPrivilege grants a named, quota-limited capability to subscribers of a
// plan, e.g. "video_consultations" limited to 4 per month. A plan may grant
// the same privilege at several intervals (1 per day and 20 per month); the
// tightest open bound wins. LimitValue of PrivilegeUnlimited means no quota.
type PlanPrivilege struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	PlanID     uint      `gorm:"not null;index:ux_plan_privileges_grant,unique,priority:1" json:"plan_id"`
	Privilege  string    `gorm:"type:varchar(100);not null;index:ux_plan_privileges_grant,unique,priority:2" json:"privilege"`
	Interval   string    `gorm:"type:varchar(16);not null;default:'monthly';index:ux_plan_privileges_grant,unique,priority:3" json:"interval"`
	LimitValue int       `gorm:"not null;default:-1" json:"limit_value"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// PrivilegeFor returns the first grant for a name, if the plan carries one.
func (p *Plan) PrivilegeFor(name string) (PlanPrivilege, bool) {
	for _, pp := range p.Privileges {
		if pp.Privilege == name {
			return pp, true
		}
	}
	return PlanPrivilege{}, false
}

// PrivilegesFor returns every grant for a name, one per interval.
func (p *Plan) PrivilegesFor(name string) []PlanPrivilege {
	var grants []PlanPrivilege
	for _, pp := range p.Privileges {
		if pp.Privilege == name {
			grants = append(grants, pp)
		}
	}
	return grants
}
