package acl

// Effective is the privilege set a user holds on one collection after
// merging owner rights and group grants.
type Effective struct {
	Read         bool
	WriteProps   bool
	WriteContent bool
	Bind         bool
	Unbind       bool
	Schedule     bool
}

func (e Effective) CanRead() bool { return e.Read }

func (e Effective) CanWrite() bool { return e.WriteProps || e.WriteContent }

func (e Effective) CanCreate() bool { return e.Bind }

func (e Effective) CanDelete() bool { return e.Unbind }

func (e Effective) CanSchedule() bool { return e.Schedule || e.Read }

// Owner is the full privilege set.
func Owner() Effective {
	return Effective{
		Read:         true,
		WriteProps:   true,
		WriteContent: true,
		Bind:         true,
		Unbind:       true,
		Schedule:     true,
	}
}
