package jobmanager

import "iter"

// Source produces commands one at a time for a SequentialJob. It may be
// finite or unbounded and is consumed once; it can't be restarted.
//
// Next returns false once the source is exhausted. Exhaustion is the normal
// end of a chain, not an error.
type Source interface {
	Next() (string, bool)
}

// SourceFunc adapts a function to a Source.
type SourceFunc func() (string, bool)

// Next calls f.
func (f SourceFunc) Next() (string, bool) {
	return f()
}

// SliceSource returns a Source yielding commands in order.
func SliceSource(commands ...string) Source {
	commands = append([]string(nil), commands...)

	return SourceFunc(func() (string, bool) {
		if len(commands) == 0 {
			return "", false
		}

		c := commands[0]
		commands = commands[1:]

		return c, true
	})
}

// SeqSource returns a Source pulling commands from seq. Once seq is exhausted
// its resources are released and the Source stays exhausted.
func SeqSource(seq iter.Seq[string]) Source {
	next, stop := iter.Pull(seq)
	exhausted := false

	return SourceFunc(func() (string, bool) {
		if exhausted {
			return "", false
		}

		c, ok := next()
		if !ok {
			exhausted = true
			stop()
		}

		return c, ok
	})
}
