package contextstore

// Resolve decides which of two entries for the same component name wins a
// merge. The priority order is total, so a winner always exists:
//
//  1. an authoritative entry beats a non-authoritative one
//  2. a canonical entry beats a non-canonical one
//  3. the newer LastVerified timestamp wins
//  4. exact ties keep the old entry (stability preference, avoids thrashing)
//
// Rules 1-3 compare metadata symmetrically, so resolving (a, b) and (b, a)
// selects the same entry whenever the entries are distinguishable.
func Resolve(old, incoming ComponentEntry) ComponentEntry {
	if old.Authoritative != incoming.Authoritative {
		if incoming.Authoritative {
			return incoming
		}
		return old
	}
	if old.Canonical != incoming.Canonical {
		if incoming.Canonical {
			return incoming
		}
		return old
	}
	if incoming.LastVerified.After(old.LastVerified) {
		return incoming
	}
	if old.LastVerified.After(incoming.LastVerified) {
		return old
	}
	return old
}
