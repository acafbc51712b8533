package acl

import (
	"context"

	"github.com/calagora/caldav/internal/directory"
)

type Provider interface {
	// Effective computes the privileges user holds on the collection at
	// path, merging all group grants from the directory.
	Effective(ctx context.Context, user *directory.User, path string) (Effective, error)
}

// LDAPACL derives privileges from group attributes in the directory.
type LDAPACL struct {
	Dir directory.Directory
}

func NewLDAPACL(dir directory.Directory) *LDAPACL {
	return &LDAPACL{Dir: dir}
}

func (p *LDAPACL) Effective(ctx context.Context, user *directory.User, path string) (Effective, error) {
	acls, err := p.Dir.UserGroupsACL(ctx, user)
	if err != nil {
		return Effective{}, err
	}
	e := Effective{}
	for _, a := range acls {
		if a.CollectionPath != path {
			continue
		}
		if a.Read {
			e.Read = true
		}
		if a.WriteProps {
			e.WriteProps = true
		}
		if a.WriteContent {
			e.WriteContent = true
		}
		if a.Bind {
			e.Bind = true
		}
		if a.Unbind {
			e.Unbind = true
		}
		if a.Schedule {
			e.Schedule = true
		}
	}
	return e, nil
}
