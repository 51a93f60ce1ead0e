package identity

// Static is a Source backed by values compiled into the binary.
type Static struct {
	RoleTag string
	Comp    Component
	AppProc AP
}

func (s Static) Role() (Role, error) { return ParseRole(s.RoleTag) }

func (s Static) Component() (Component, error) { return s.Comp, nil }

func (s Static) AP() (AP, error) { return s.AppProc, nil }
