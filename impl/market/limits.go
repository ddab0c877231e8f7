package market

import (
	"taskmarket/entity"
	"taskmarket/internal/config"
	"time"
)

// Limits holds the daily quota ceilings. Total ceiling depends on the trust
// level, platform ceiling is the same for everyone.
type Limits struct {
	Daily       map[entity.TrustLevel]int
	PerPlatform int
	Location    *time.Location
}

func LimitsFromConfig(conf config.Quota) (Limits, error) {
	loc, err := time.LoadLocation(conf.TimeZone)
	if err != nil {
		return Limits{}, err
	}
	return Limits{
		Daily: map[entity.TrustLevel]int{
			entity.LevelNovice:   conf.Novice,
			entity.LevelVerified: conf.Verified,
			entity.LevelReferral: conf.Referral,
			entity.LevelTop:      conf.Top,
		},
		PerPlatform: conf.PerPlatform,
		Location:    loc,
	}, nil
}

// DailyCeiling returns the total ceiling for the level, falling back to novice.
func (l Limits) DailyCeiling(level entity.TrustLevel) int {
	if v, ok := l.Daily[level]; ok {
		return v
	}
	return l.Daily[entity.LevelNovice]
}

func (l Limits) Key(executorID string, now time.Time) entity.QuotaKey {
	return entity.QuotaKey{
		ExecutorID: executorID,
		Day:        entity.Day(now, l.Location),
	}
}
