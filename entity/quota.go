package entity

import "time"

// TrustLevel gates the total daily claim ceiling of an executor.
type TrustLevel string

const (
	LevelNovice   TrustLevel = "novice"
	LevelVerified TrustLevel = "verified"
	LevelReferral TrustLevel = "referral"
	LevelTop      TrustLevel = "top"
)

func IsValidTrustLevel(l TrustLevel) bool {
	switch l {
	case LevelNovice, LevelVerified, LevelReferral, LevelTop:
		return true
	}
	return false
}

const dayLayout = "2006-01-02"

// Day returns the calendar day of t in loc, formatted as a quota key part.
func Day(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format(dayLayout)
}

// QuotaKey identifies one executor's counters for one calendar day.
// A new day is a new key; counters are never reset in place.
type QuotaKey struct {
	ExecutorID string `json:"executor_id" bson:"executor_id"`
	Day        string `json:"day" bson:"day"`
}

func (k QuotaKey) String() string {
	return k.ExecutorID + ":" + k.Day
}

type DailyQuota struct {
	QuotaKey  `bson:",inline"`
	Total     int              `json:"total" bson:"total"`
	Platforms map[Platform]int `json:"platforms" bson:"platforms"`
}

func (q *DailyQuota) PlatformCount(p Platform) int {
	if q == nil || q.Platforms == nil {
		return 0
	}
	return q.Platforms[p]
}

func (q *DailyQuota) TotalCount() int {
	if q == nil {
		return 0
	}
	return q.Total
}

// QuotaStatus is what an executor sees about today's limits.
type QuotaStatus struct {
	Day             string           `json:"day"`
	TrustLevel      TrustLevel       `json:"trust_level"`
	DailyUsed       int              `json:"daily_used"`
	DailyCeiling    int              `json:"daily_ceiling"`
	PerPlatformUsed map[Platform]int `json:"per_platform_used"`
	PlatformCeiling int              `json:"platform_ceiling"`
}
