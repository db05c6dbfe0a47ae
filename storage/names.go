package storage

import (
	"fmt"
	"regexp"
)

// TablePrefix is prepended to every validated queue name to produce the
// per-queue table identifier (spec §6).
const TablePrefix = "systeric_pgqueue_"

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ValidateQueueName checks a caller-supplied queue name against the
// identifier pattern the table and channel names are derived from.
func ValidateQueueName(name string) error {
	if !identifierPattern.MatchString(name) {
		return fmt.Errorf("storage: invalid queue name %q: must match %s", name, identifierPattern.String())
	}
	return nil
}

// TableName derives the per-queue table identifier from a queue name.
func TableName(queue string) (string, error) {
	if err := ValidateQueueName(queue); err != nil {
		return "", err
	}
	return TablePrefix + queue, nil
}

// ChannelName derives the per-queue notification channel name from a
// table identifier (spec §6: "<table>_channel").
func ChannelName(table string) string {
	return table + "_channel"
}
