package api

import (
	"strconv"

	"github.com/pkg/errors"
)

// ParseSessionID expands a base-36 session name into its wire id,
// accumulating id = id*36 + digit left to right.
func ParseSessionID(s string) (uint64, error) {
	id, err := strconv.ParseUint(s, 36, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad session id %q", s)
	}
	return id, nil
}

func FormatSessionID(id uint64) string {
	return strconv.FormatUint(id, 36)
}
