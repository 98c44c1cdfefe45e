// Package artifact persists one file per collected (account, service, region,
// operation, result field) and reads them back.
package artifact

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Key identifies an artifact.
type Key struct {
	AccountID   string
	Service     string
	Region      string
	Operation   string
	ResultField string
}

func (k Key) String() string {
	return strings.Join([]string{k.AccountID, k.Service, k.Region, k.Operation, k.ResultField}, "-")
}

// FileName returns the artifact file name for the key.
func (k Key) FileName() string {
	return k.String() + ".json"
}

// ErrBadFileName is returned when a file name cannot be mapped back to a key.
var ErrBadFileName = errors.New("unrecognized artifact file name")

var regionPattern = regexp.MustCompile(`^[a-z]{2}(-gov|-iso[a-z]*)?-[a-z]+-\d+$`)

// ParseFileName recovers a key from an artifact file name. The region segment
// is located by its shape so dashed region and service names survive; names
// without a recognizable region fall back to a positional split.
func ParseFileName(name string) (Key, error) {
	base := strings.TrimSuffix(name, ".json")
	if base == name {
		return Key{}, fmt.Errorf("%w: %s", ErrBadFileName, name)
	}

	parts := strings.Split(base, "-")
	if len(parts) < 5 {
		return Key{}, fmt.Errorf("%w: %s", ErrBadFileName, name)
	}

	// region spans 3 or 4 dash-separated segments (us-east-1, us-gov-west-1)
	for start := 2; start < len(parts); start++ {
		for _, width := range []int{3, 4} {
			end := start + width
			if end+2 > len(parts) {
				continue
			}
			region := strings.Join(parts[start:end], "-")
			if !regionPattern.MatchString(region) {
				continue
			}
			return Key{
				AccountID:   parts[0],
				Service:     strings.Join(parts[1:start], "-"),
				Region:      region,
				Operation:   parts[end],
				ResultField: strings.Join(parts[end+1:], "-"),
			}, nil
		}
	}

	return Key{
		AccountID:   parts[0],
		Service:     parts[1],
		Region:      parts[2],
		Operation:   parts[3],
		ResultField: strings.Join(parts[4:], "-"),
	}, nil
}
