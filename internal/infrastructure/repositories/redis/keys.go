package redis

import "callcore/internal/core/domain"

const (
	keyPrefix        = "callcore:"
	schemaVersionKey = keyPrefix + "schema:version"
	callLogEntries   = keyPrefix + "calllog:entries"
	callLogIndex     = keyPrefix + "calllog:index"
)

func callLogRecipientIndex(recipient domain.RecipientID) string {
	return keyPrefix + "calllog:recipient:" + string(recipient)
}
