package jobsystem

import "github.com/Deepreo/jobsys/core"

// attach records child as a dependency of parent.
func (t *table) attach(child core.Handle, c *slot, parent core.Handle, p *slot) {
	c.parent = parent
	p.children = append(p.children, child)
	p.pending++
}

// detach removes child from its parent's child list and decrements the
// parent's pending count. It returns the parent, or nil if there is none.
func (t *table) detach(child core.Handle, c *slot) (core.Handle, *slot) {
	parent := c.parent
	c.parent = core.InvalidHandle
	p := t.get(parent)
	if p == nil {
		return core.InvalidHandle, nil
	}
	for i, h := range p.children {
		if h == child {
			p.children = append(p.children[:i], p.children[i+1:]...)
			break
		}
	}
	if p.pending > 0 {
		p.pending--
	}
	return parent, p
}

// isAncestor reports whether candidate is h or one of h's ancestors.
func (t *table) isAncestor(candidate, h core.Handle) bool {
	for h != core.InvalidHandle {
		if h == candidate {
			return true
		}
		s := t.get(h)
		if s == nil {
			return false
		}
		h = s.parent
	}
	return false
}

// acceptsChildren reports whether new dependencies may still be added to s.
// Once a job is runnable it may be claimed at any moment.
func acceptsChildren(s *slot) bool {
	return s.status == core.StatusCreated || (s.status == core.StatusQueued && s.blocked)
}

// childDrained runs once the dispatcher has delivered a child's callback.
// Caller holds s.mu.
func (s *System) childDrained(child core.Handle, c *slot) {
	parent, p := s.table.detach(child, c)
	if p == nil || p.pending > 0 {
		return
	}
	switch {
	case p.status == core.StatusQueued && p.blocked:
		p.blocked = false
		s.work.push(parent)
	case p.status == core.StatusCanceled && !p.settled:
		s.settle(parent, p)
	}
}

// settle moves a job onto the completion queue exactly once. Caller holds s.mu.
func (s *System) settle(h core.Handle, sl *slot) {
	if sl.settled {
		return
	}
	sl.settled = true
	s.done.push(h)
}
