package supervisor

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	playersCountPattern = regexp.MustCompile(`Players connected \((\d+)\)`)
	maxPlayersPattern   = regexp.MustCompile(`\*?\s*MaxPlayers\s*=\s*(\d+)`)
)

// PlayersInfo is one health poll sample.
type PlayersInfo struct {
	Connected bool     `json:"connected"`
	Online    int      `json:"current"`
	Max       int      `json:"max"`
	Names     []string `json:"names,omitempty"`
}

// parsePlayers interprets the output of the players command. The header
// carries the count; when it is absent the listed names are counted
// instead. Names are the "-"-prefixed lines below the header.
func parsePlayers(out string) (count int, names []string) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "-") {
			names = append(names, strings.TrimSpace(strings.TrimPrefix(line, "-")))
		}
	}

	if m := playersCountPattern.FindStringSubmatch(out); m != nil {
		n, err := strconv.Atoi(m[1])
		if err == nil {
			return n, names
		}
	}
	return len(names), names
}

// parseMaxPlayers extracts MaxPlayers from showoptions output.
// Returns 0 when the option is absent.
func parseMaxPlayers(out string) int {
	if m := maxPlayersPattern.FindStringSubmatch(out); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			return n
		}
	}
	return 0
}
