package registry

// Interest is a pure, side-effect-free predicate over InstanceInfo (spec
// §3). It is composable: atomic forms select by id, app name, or vip
// address, or match everything/nothing; Or combines any number of
// interests.
//
// Interest is modeled as a tagged closure rather than an interface with
// many implementations, mirroring the teacher's attribute-subset predicate
// in internal/source/registry.go (matchesFilters) — small, data-driven,
// and trivially composable without a visitor hierarchy.
type Interest struct {
	match func(InstanceInfo) bool
}

// Matches reports whether info satisfies the interest.
func (i Interest) Matches(info InstanceInfo) bool {
	if i.match == nil {
		return false
	}
	return i.match(info)
}

// ById matches instances with the given id.
func ById(id string) Interest {
	return Interest{match: func(info InstanceInfo) bool { return info.ID == id }}
}

// ByAppName matches instances whose "appName" attribute equals name.
func ByAppName(name string) Interest {
	return Interest{match: func(info InstanceInfo) bool { return info.Attributes["appName"] == name }}
}

// ByVipAddress matches instances whose "vipAddress" attribute equals addr.
func ByVipAddress(addr string) Interest {
	return Interest{match: func(info InstanceInfo) bool { return info.Attributes["vipAddress"] == addr }}
}

// Full matches every instance.
func Full() Interest {
	return Interest{match: func(InstanceInfo) bool { return true }}
}

// None matches no instance.
func None() Interest {
	return Interest{match: func(InstanceInfo) bool { return false }}
}

// Or matches any instance matched by at least one of the given interests.
func Or(interests ...Interest) Interest {
	cp := append([]Interest(nil), interests...)
	return Interest{match: func(info InstanceInfo) bool {
		for _, i := range cp {
			if i.Matches(info) {
				return true
			}
		}
		return false
	}}
}
