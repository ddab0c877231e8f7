package verify

import "taskmarket/entity"

type channelRule struct {
	available func(entity.Contacts) bool
	channel   entity.Channel
}

// cascade lists channels by priority, first available wins.
var cascade = []channelRule{
	{entity.Contacts.HasTelegram, entity.ChannelTelegram},
	{entity.Contacts.HasEmail, entity.ChannelEmail},
	{entity.Contacts.HasPhone, entity.ChannelSMS},
}

// SelectChannel picks exactly one delivery channel from the contacts on file.
// It looks only at which fields are populated, never at delivery history.
func SelectChannel(c entity.Contacts) (entity.Channel, error) {
	for _, rule := range cascade {
		if rule.available(c) {
			return rule.channel, nil
		}
	}
	return "", entity.ErrNoContactMethod
}
