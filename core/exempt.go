package core

// ExemptionKind names one of the three exemption sets.
type ExemptionKind string

const (
	ExemptMember  ExemptionKind = "member"
	ExemptRole    ExemptionKind = "role"
	ExemptChannel ExemptionKind = "channel"
)

// Valid reports whether k names a known set.
func (k ExemptionKind) Valid() bool {
	return k == ExemptMember || k == ExemptRole || k == ExemptChannel
}

// ExemptionSet holds the ids that suppress organic XP earning in a community.
type ExemptionSet struct {
	Members  map[UserID]struct{}    `json:"members"`
	Roles    map[RoleID]struct{}    `json:"roles"`
	Channels map[ChannelID]struct{} `json:"channels"`
}

// NewExemptionSet returns an empty set with allocated maps.
func NewExemptionSet() ExemptionSet {
	return ExemptionSet{
		Members:  map[UserID]struct{}{},
		Roles:    map[RoleID]struct{}{},
		Channels: map[ChannelID]struct{}{},
	}
}

// Clone returns a deep copy.
func (s ExemptionSet) Clone() ExemptionSet {
	cp := NewExemptionSet()
	for k := range s.Members {
		cp.Members[k] = struct{}{}
	}
	for k := range s.Roles {
		cp.Roles[k] = struct{}{}
	}
	for k := range s.Channels {
		cp.Channels[k] = struct{}{}
	}
	return cp
}

// Set adds or removes id from the set named by kind.
func (s *ExemptionSet) Set(kind ExemptionKind, id string, exempt bool) error {
	if s.Members == nil || s.Roles == nil || s.Channels == nil {
		*s = s.Clone()
	}
	switch kind {
	case ExemptMember:
		toggle(s.Members, UserID(id), exempt)
	case ExemptRole:
		toggle(s.Roles, RoleID(id), exempt)
	case ExemptChannel:
		toggle(s.Channels, ChannelID(id), exempt)
	default:
		return InvalidArgumentf("unknown exemption kind %q", kind)
	}
	return nil
}

func toggle[K comparable](m map[K]struct{}, k K, on bool) {
	if on {
		m[k] = struct{}{}
		return
	}
	delete(m, k)
}

// IsExempt unions the three checks; any single match exempts the member.
func (s ExemptionSet) IsExempt(user UserID, heldRoles []RoleID, channel *ChannelID) bool {
	if _, ok := s.Members[user]; ok {
		return true
	}
	for _, r := range heldRoles {
		if _, ok := s.Roles[r]; ok {
			return true
		}
	}
	if channel != nil {
		if _, ok := s.Channels[*channel]; ok {
			return true
		}
	}
	return false
}
