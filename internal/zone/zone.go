package zone

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"multizone/pkg/protocol"
)

var ErrInvalidZone = errors.New("invalid zone")

// Zone is a seat index, 0..protocol.ZoneCount-1.
type Zone int

const (
	Driver Zone = iota
	Codriver
	RearLeft
	RearRight
)

var names = [protocol.ZoneCount]string{
	Driver:    "Driver",
	Codriver:  "Codriver",
	RearLeft:  "Rear Left",
	RearRight: "Rear Right",
}

func (z Zone) Valid() bool {
	return z >= 0 && int(z) < protocol.ZoneCount
}

func (z Zone) String() string {
	if !z.Valid() {
		return fmt.Sprintf("Zone(%d)", int(z))
	}
	return names[z]
}

// All returns every zone in index order.
func All() []Zone {
	zs := make([]Zone, protocol.ZoneCount)
	for i := range zs {
		zs[i] = Zone(i)
	}
	return zs
}

// Parse accepts a zone index ("2") or name ("rear-left", "Rear Left").
func Parse(s string) (Zone, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		z := Zone(n)
		if !z.Valid() {
			return 0, fmt.Errorf("%w: %d", ErrInvalidZone, n)
		}
		return z, nil
	}

	key := normalize(s)
	for i, name := range names {
		if normalize(name) == key {
			return Zone(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidZone, s)
}

func normalize(s string) string {
	r := strings.NewReplacer(" ", "", "-", "", "_", "")
	return strings.ToLower(r.Replace(s))
}
