// Package entity defines domain types shared across the application.

package entity

// Alert topics used to tag admin notifications sent by the bot.
// Log calls tag records with sl.Topic(entity.TopicXxx).
const (
	TopicClaim    = "claim"
	TopicOrder    = "order"
	TopicSecurity = "security"
	TopicError    = "error"
	TopicSystem   = "system"
)

var allTopics = []string{
	TopicClaim,
	TopicOrder,
	TopicSecurity,
	TopicError,
	TopicSystem,
}

func AllTopics() []string {
	result := make([]string, len(allTopics))
	copy(result, allTopics)
	return result
}

func IsValidTopic(topic string) bool {
	for _, t := range allTopics {
		if t == topic {
			return true
		}
	}
	return false
}
