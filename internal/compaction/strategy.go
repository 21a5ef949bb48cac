package compaction

import "github.com/forgeworks/forge/pkg/models"

// Strategy identifies a contiguous range of messages to summarize. Two
// flavors exist: evict takes from the front up to a token budget, retain
// keeps a token budget at the tail and takes everything before it. Both
// windows are token thresholds, comparable so strategies combine via min.
type Strategy struct {
	window int
	retain bool
}

// Evict builds a strategy that evicts at most window tokens from the front
// of the conversation.
func Evict(window int) Strategy {
	return Strategy{window: window}
}

// Retain builds a strategy that keeps the most recent window tokens and
// evicts everything older.
func Retain(window int) Strategy {
	return Strategy{window: window, retain: true}
}

// Min returns whichever strategy yields the smaller range for the context;
// a strategy yielding no range wins.
func (s Strategy) Min(other Strategy, c *models.Context) Strategy {
	sStart, sEnd, sOK := s.EvictionRange(c)
	oStart, oEnd, oOK := other.EvictionRange(c)
	switch {
	case !sOK:
		return s
	case !oOK:
		return other
	case (sEnd - sStart) <= (oEnd - oStart):
		return s
	}
	return other
}

// EvictionRange computes the message range [start, end] (inclusive) to
// summarize, or ok=false when nothing should be evicted. The head run of
// system messages is never evicted, the most recent message is always kept,
// and the range never strands a tool result from its assistant message.
func (s Strategy) EvictionRange(c *models.Context) (start, end int, ok bool) {
	if c == nil || len(c.Messages) == 0 {
		return 0, 0, false
	}

	first := 0
	for first < len(c.Messages) && c.Messages[first].HasRole(models.RoleSystem) {
		first++
	}
	last := len(c.Messages) - 1
	if first >= last {
		return 0, 0, false
	}

	if s.retain {
		// walk back from the tail until the retained budget is spent
		budget := s.window
		boundary := last
		for boundary >= first {
			budget -= c.Messages[boundary].TokenCountApprox()
			if budget < 0 {
				break
			}
			boundary--
		}
		end = boundary
	} else {
		// take messages from the front while they fit the eviction budget
		budget := s.window
		end = first - 1
		for i := first; i <= last; i++ {
			budget -= c.Messages[i].TokenCountApprox()
			if budget < 0 {
				break
			}
			end = i
		}
	}

	if end >= last {
		end = last - 1
	}
	// a tool result may not be separated from the assistant that issued it
	for end >= first && end+1 < len(c.Messages) && c.Messages[end+1].HasToolResult() {
		end--
	}

	if end < first {
		return 0, 0, false
	}
	return first, end, true
}
