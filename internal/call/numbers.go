// Package call contains the call controller: the reconciliation loop that
// fuses hardware events, the known-number dialing policy, and inbound
// relay messages into hook/ring/mute/sound actions.
package call

// Sentinel is the single digit an unmatchable dialed string is coerced
// to — it rings the operator rather than placing a call.
const Sentinel = "0"

// MatchResult classifies a dialed string against the known numbers.
type MatchResult int

const (
	// MatchNone: no known number starts with the dialed string.
	MatchNone MatchResult = iota

	// MatchPrefix: the dialed string is a strict prefix of at least one
	// known number — keep waiting for more digits.
	MatchPrefix

	// MatchExact: the dialed string is a known number.
	MatchExact
)

// String returns the match result name for logs.
func (r MatchResult) String() string {
	switch r {
	case MatchNone:
		return "none"
	case MatchPrefix:
		return "prefix"
	case MatchExact:
		return "exact"
	default:
		return "unknown"
	}
}

// Numbers is the fixed, ordered known-number policy.
type Numbers struct {
	known []string
}

// NewNumbers creates the policy from the configured list.
func NewNumbers(known []string) *Numbers {
	return &Numbers{known: append([]string(nil), known...)}
}

// Match classifies digits. Exact wins over prefix: dialing a complete
// number places the call even if a longer number extends it.
func (n *Numbers) Match(digits string) MatchResult {
	if digits == "" {
		return MatchPrefix
	}
	result := MatchNone
	for _, number := range n.known {
		if number == digits {
			return MatchExact
		}
		if len(number) > len(digits) && number[:len(digits)] == digits {
			result = MatchPrefix
		}
	}
	return result
}
