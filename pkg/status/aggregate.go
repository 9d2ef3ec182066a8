package status

import (
	"errors"
	"fmt"
)

// ErrInconsistentStatuses is returned by AggregateStrict when the children
// carry a combination that current transition rules cannot produce.
var ErrInconsistentStatuses = errors.New("inconsistent child statuses")

// Aggregate derives a parent status from its children's statuses.
//
// Precedence:
//  1. any child running: running
//  2. both failed and succeeded present: incomplete
//  3. otherwise the remaining distinct status (first seen, when the children
//     are still converging, e.g. created next to succeeded)
//
// An empty set aggregates to created.
func Aggregate(children []Status) Status {
	s, _ := AggregateStrict(children)
	return s
}

// AggregateStrict is Aggregate, but also reports ErrInconsistentStatuses when
// three or more distinct non-running statuses are present at once.
func AggregateStrict(children []Status) (Status, error) {
	if len(children) == 0 {
		return Created, nil
	}

	distinct := make(map[Status]struct{}, len(children))
	order := make([]Status, 0, len(children))
	for _, c := range children {
		if _, seen := distinct[c]; seen {
			continue
		}
		distinct[c] = struct{}{}
		order = append(order, c)
	}

	if _, ok := distinct[Running]; ok {
		return Running, nil
	}

	var err error
	if len(distinct) >= 3 {
		err = fmt.Errorf("%w: %v", ErrInconsistentStatuses, order)
	}

	_, hasFailed := distinct[Failed]
	_, hasSucceeded := distinct[Succeeded]
	if hasFailed && hasSucceeded {
		return Incomplete, err
	}
	return order[0], err
}
