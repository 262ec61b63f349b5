package kernel

import (
	"fmt"

	"github.com/fernwer/Duet/payload"
	"github.com/lib/pq/oid"
)

// scratch holds the per-row argument buffer of MQO execution. One scratch
// lives as long as its kernel; it is reset between rows and batches, never
// reallocated unless a row needs more room.
type scratch struct {
	args   []any
	resets int
}

// bind converts row into arguments of the given types, reusing the buffer
func (s *scratch) bind(row payload.Row, types []oid.Oid) ([]any, error) {
	s.args = s.args[:0]
	for i, v := range row {
		arg, err := bind(v, types[i])
		if err != nil {
			return nil, rowError("bind", fmt.Errorf("parameter $%d: %w", i+1, err))
		}
		s.args = append(s.args, arg)
	}
	return s.args, nil
}

// reset drops references held by the buffer so bound values can be collected
func (s *scratch) reset() {
	clear(s.args[:cap(s.args)])
	s.args = s.args[:0]
	s.resets++
}
