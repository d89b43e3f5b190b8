package protocol

import (
	"strings"
)

// ZoneCount is the number of seats the firmware reports on.
const ZoneCount = 4

const (
	talkerPrefix = "TALKER:"
	processVerb  = "PROCESS:"
	resetCmd     = "RESET"
	resetAck     = "RESET_OK"
)

// TalkerStatus holds one voice-activity flag per zone, index-aligned with
// zone numbers.
type TalkerStatus [ZoneCount]bool

func (ts TalkerStatus) String() string {
	parts := make([]string, 0, ZoneCount)
	for _, v := range ts {
		parts = append(parts, bit(v))
	}
	return strings.Join(parts, ",")
}

// Slice returns a copy of the flags as a slice, handy for JSON.
func (ts TalkerStatus) Slice() []bool {
	out := make([]bool, ZoneCount)
	copy(out, ts[:])
	return out
}

func EncodeProcessingCommand(enabled bool) []byte {
	return []byte(processVerb + bit(enabled) + "\n")
}

func EncodeReset() []byte {
	return []byte(resetCmd + "\n")
}

// DecodeStatusLine parses a "TALKER:b0,b1,b2,b3" line. Anything else,
// including the wrong number of fields or a field other than 0/1, is
// rejected with ok == false.
func DecodeStatusLine(line string) (TalkerStatus, bool) {
	var ts TalkerStatus

	s := strings.TrimSpace(line)
	if !strings.HasPrefix(s, talkerPrefix) {
		return ts, false
	}

	fields := strings.Split(strings.TrimPrefix(s, talkerPrefix), ",")
	if len(fields) != ZoneCount {
		return ts, false
	}

	for i, f := range fields {
		switch f {
		case "0":
			ts[i] = false
		case "1":
			ts[i] = true
		default:
			return TalkerStatus{}, false
		}
	}

	return ts, true
}

func DecodeResetAck(line string) bool {
	return strings.Contains(line, resetAck)
}

func bit(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
