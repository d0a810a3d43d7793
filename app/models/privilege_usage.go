package models

import "time"

// Privilege limit intervals supported by plans.
const (
	PrivilegeIntervalDaily   = "daily"
	PrivilegeIntervalWeekly  = "weekly"
	PrivilegeIntervalMonthly = "monthly"
)

// PrivilegeUnlimited marks a privilege without a quota.
const PrivilegeUnlimited = -1

// PrivilegeUsage tracks consumption of one plan privilege inside one usage
// window. Windows are contiguous and non-overlapping per privilege and are
// anchored to the subscription's billing anchor, not wall-clock midnight.
type PrivilegeUsage struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	SubscriptionID uint      `gorm:"not null;index:ux_privilege_usages_window,unique,priority:1" json:"subscription_id"`
	Privilege      string    `gorm:"type:varchar(100);not null;index:ux_privilege_usages_window,unique,priority:2" json:"privilege"`
	Interval       string    `gorm:"type:varchar(16);not null;index:ux_privilege_usages_window,unique,priority:3" json:"interval"`
	WindowStart    time.Time `gorm:"type:timestamp;not null;index:ux_privilege_usages_window,unique,priority:4" json:"window_start"`
	WindowEnd      time.Time `gorm:"type:timestamp;not null" json:"window_end"`
	LimitValue     int       `gorm:"not null;default:-1" json:"limit_value"`
	Consumed       int       `gorm:"not null;default:0" json:"consumed"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
