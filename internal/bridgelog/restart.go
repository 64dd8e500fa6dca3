package bridgelog

import (
	"net/netip"
	"strconv"
	"strings"
	"time"
)

// RestartFramePrefix opens the reconnect frame a bridge logs after a reset.
// It is followed by 8 hex digits of IPv4 address and 8 hex digits of uptime
// in seconds.
const RestartFramePrefix = "ab abab 55 5555 30 434f4e4e"

const restartFrameLen = len(RestartFramePrefix) + 16

// RestartDetail is the decoded payload of one reconnect frame.
type RestartDetail struct {
	EventID   int64         `json:"communicationlogid"`
	Timestamp time.Time     `json:"timestamp"`
	Address   netip.Addr    `json:"ip_address"`
	Uptime    time.Duration `json:"uptime"`
	// StartedAt is Timestamp minus Uptime.
	StartedAt time.Time `json:"starttime"`
}

// ParseRestartFrame decodes ev when its comment is exactly a reconnect frame.
func ParseRestartFrame(ev Event) (RestartDetail, bool) {
	c := strings.ToLower(ev.Comment)
	if len(c) != restartFrameLen || !strings.HasPrefix(c, RestartFramePrefix) {
		return RestartDetail{}, false
	}
	payload := c[len(RestartFramePrefix):]

	ip, err := strconv.ParseUint(payload[:8], 16, 32)
	if err != nil {
		return RestartDetail{}, false
	}
	secs, err := strconv.ParseUint(payload[8:], 16, 32)
	if err != nil {
		return RestartDetail{}, false
	}

	uptime := time.Duration(secs) * time.Second
	return RestartDetail{
		EventID:   ev.ID,
		Timestamp: ev.Timestamp,
		Address:   netip.AddrFrom4([4]byte{byte(ip >> 24), byte(ip >> 16), byte(ip >> 8), byte(ip)}),
		Uptime:    uptime,
		StartedAt: ev.Timestamp.Add(-uptime),
	}, true
}
