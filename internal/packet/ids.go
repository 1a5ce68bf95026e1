package packet

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// Identifier prefixes. Every identifier on the wire is prefix + slug, where
// the slug matches slugPattern.
const (
	PrefixPacket      = "pkt_"
	PrefixCorrelation = "corr_"
	PrefixCampaign    = "camp_"
	PrefixTask        = "task_"
	PrefixToken       = "token_"
)

var slugPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// NewPacketID allocates a fresh packet identifier.
func NewPacketID() string { return PrefixPacket + uuid.NewString() }

// NewCorrelationID allocates a fresh episode identifier.
func NewCorrelationID() string { return PrefixCorrelation + uuid.NewString() }

// NewCampaignID allocates a fresh campaign identifier.
func NewCampaignID() string { return PrefixCampaign + uuid.NewString() }

// NewTaskID allocates a fresh task identifier.
func NewTaskID() string { return PrefixTask + uuid.NewString() }

// NewTokenID allocates a fresh authorization token identifier.
func NewTokenID() string { return PrefixToken + uuid.NewString() }

// ValidID reports whether id is prefix followed by a non-empty ASCII slug.
func ValidID(prefix, id string) bool {
	if len(id) <= len(prefix) || id[:len(prefix)] != prefix {
		return false
	}
	return slugPattern.MatchString(id[len(prefix):])
}

// CheckID returns a descriptive error when id does not match prefix + slug.
func CheckID(field, prefix, id string) error {
	if !ValidID(prefix, id) {
		return fmt.Errorf("%s: identifier %q does not match %s<slug>", field, id, prefix)
	}
	return nil
}
