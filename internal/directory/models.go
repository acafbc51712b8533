package directory

type User struct {
	UID         string
	DN          string
	DisplayName string
	Mail        string
}

type Group struct {
	CN          string
	DN          string
	DisplayName string
	Members     []string // member DNs
}

// GroupACL grants privileges on one collection path to a group's members.
type GroupACL struct {
	CollectionPath string
	Read           bool
	WriteProps     bool
	WriteContent   bool
	Bind           bool
	Unbind         bool
	Schedule       bool
}
