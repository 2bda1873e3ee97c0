package session

import (
	"github.com/woozymasta/savetpl/internal/hooks"
	"github.com/woozymasta/savetpl/internal/layout"
)

// hookContext is the session as seen by a hook running for node n. Reads
// and writes resolve ids in n's instance scope and skip the target's hooks.
type hookContext struct {
	*Session
	n *layout.Node
}

var _ hooks.Context = hookContext{}

func (s *Session) context(n *layout.Node) hookContext {
	return hookContext{Session: s, n: n}
}

func (c hookContext) Key() string { return c.n.Key }

func (c hookContext) Path() []int { return append([]int(nil), c.n.Path...) }

func (c hookContext) GetInt(id string) (int64, error) {
	n, err := c.tree.Scoped(id, c.n.Path)
	if err != nil {
		return 0, err
	}

	return c.rawGet(n)
}

func (c hookContext) SetInt(id string, v int64) error {
	n, err := c.tree.Scoped(id, c.n.Path)
	if err != nil {
		return err
	}

	return c.rawSet(n, v)
}

func (c hookContext) Invalidate(resources ...string) { c.res.Invalidate(resources...) }

func (c hookContext) Repair(id string) error {
	if id == "" {
		return c.RepairAll()
	}

	n, err := c.tree.Scoped(id, c.n.Path)
	if err != nil {
		return err
	}

	return c.repair(n)
}
