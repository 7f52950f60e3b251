package batch

import (
	"fmt"
	"strconv"
	"strings"
)

// itemSep joins the job id and the item index inside a custom id. Job ids are
// UUIDs and never contain it.
const itemSep = "_item_"

// ItemID identifies one request inside a bulk job. It is string-encoded at
// the wire boundary and parsed back from the provider's result stream; the
// index is what makes out-of-order results land in the right slot.
type ItemID struct {
	JobID string
	Index int
}

func (id ItemID) String() string {
	return id.JobID + itemSep + strconv.Itoa(id.Index)
}

// ParseItemID decodes a custom id produced by ItemID.String.
func ParseItemID(s string) (ItemID, error) {
	i := strings.LastIndex(s, itemSep)
	if i < 0 {
		return ItemID{}, fmt.Errorf("malformed custom id %q", s)
	}
	idx, err := strconv.Atoi(s[i+len(itemSep):])
	if err != nil || idx < 0 {
		return ItemID{}, fmt.Errorf("malformed item index in custom id %q", s)
	}
	return ItemID{JobID: s[:i], Index: idx}, nil
}
