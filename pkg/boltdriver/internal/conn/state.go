package conn

import "github.com/orneryd/nornicdb/pkg/boltdriver/internal/errs"

// State is the connection's protocol state, per spec.md §4.B.
type State int

const (
	Disconnected State = iota
	Negotiated
	Authenticating
	Ready
	Streaming
	TxReady
	TxStreaming
	Interrupted
	Failed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Negotiated:
		return "Negotiated"
	case Authenticating:
		return "Authenticating"
	case Ready:
		return "Ready"
	case Streaming:
		return "Streaming"
	case TxReady:
		return "TxReady"
	case TxStreaming:
		return "TxStreaming"
	case Interrupted:
		return "Interrupted"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// legalOutbound is the table from spec.md §4.B: which request tags may be
// sent while in a given state.
var legalOutbound = map[State]map[byte]bool{
	Negotiated:     set(TagHello),
	Authenticating: set(TagLogon),
	Ready:          set(TagRun, TagBegin, TagRoute, TagReset, TagLogoff, TagGoodbye),
	Streaming:      set(TagPull, TagDiscard, TagReset),
	TxReady:        set(TagRun, TagCommit, TagRollback, TagReset),
	TxStreaming:    set(TagPull, TagDiscard, TagRun, TagCommit, TagRollback, TagReset),
	Interrupted:    set(TagReset),
}

func set(tags ...byte) map[byte]bool {
	m := make(map[byte]bool, len(tags))
	for _, t := range tags {
		m[t] = true
	}
	return m
}

// checkOutbound returns an InvalidArgument error if tag may not legally be
// sent while in state s.
func checkOutbound(s State, tag byte) error {
	allowed, ok := legalOutbound[s]
	if !ok || !allowed[tag] {
		return errs.New(errs.InvalidArgument, "message tag 0x%02X not legal in state %s", tag, s)
	}
	return nil
}

// nextStateAfterSummary computes the post-response state given the state a
// request was sent from, the request tag, whether the terminal summary
// carried has_more: true, and whether this connection still owes a LOGON
// (splitAuth, Bolt >= 5.1). Below 5.1 auth is folded into HELLO itself, so a
// HELLO SUCCESS goes straight to Ready; at >= 5.1 it lands in Authenticating
// until LOGON completes it.
func nextStateAfterSummary(from State, requestTag byte, hasMore bool, splitAuth bool) State {
	switch requestTag {
	case TagHello:
		if splitAuth {
			return Authenticating
		}
		return Ready
	case TagLogon:
		return Ready
	case TagBegin:
		return TxReady
	case TagCommit, TagRollback:
		return Ready
	case TagRun:
		if from == TxReady || from == TxStreaming {
			if hasMore {
				return TxStreaming
			}
			return TxReady
		}
		if hasMore {
			return Streaming
		}
		return Ready
	case TagPull, TagDiscard:
		if from == TxStreaming {
			if hasMore {
				return TxStreaming
			}
			return TxReady
		}
		if hasMore {
			return Streaming
		}
		return Ready
	case TagReset:
		return Ready
	case TagRoute, TagLogoff:
		return Ready
	case TagGoodbye:
		return Disconnected
	default:
		return from
	}
}
