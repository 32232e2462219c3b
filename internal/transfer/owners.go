package transfer

import "slices"

// OwnerIndex records which clients own which transfers. It is not safe for
// concurrent use; callers guard it with their own lock.
type OwnerIndex struct {
	owners  map[string][]string
	byOwner map[string]map[string]struct{}
}

// NewOwnerIndex returns an empty index.
func NewOwnerIndex() *OwnerIndex {
	return &OwnerIndex{
		owners:  make(map[string][]string),
		byOwner: make(map[string]map[string]struct{}),
	}
}

// Add records owners for transferID. Empty owner ids are skipped and an
// owner listed twice is stored once.
func (x *OwnerIndex) Add(transferID string, owners ...string) {
	for _, owner := range owners {
		if owner == "" || slices.Contains(x.owners[transferID], owner) {
			continue
		}
		x.owners[transferID] = append(x.owners[transferID], owner)
		set, ok := x.byOwner[owner]
		if !ok {
			set = make(map[string]struct{})
			x.byOwner[owner] = set
		}
		set[transferID] = struct{}{}
	}
}

// Has reports whether transferID is indexed.
func (x *OwnerIndex) Has(transferID string) bool {
	_, ok := x.owners[transferID]
	return ok
}

// Owners returns the owners of transferID.
func (x *OwnerIndex) Owners(transferID string) []string {
	return slices.Clone(x.owners[transferID])
}

// Remove drops transferID and returns the owners it had.
func (x *OwnerIndex) Remove(transferID string) ([]string, bool) {
	owners, ok := x.owners[transferID]
	if !ok {
		return nil, false
	}
	delete(x.owners, transferID)
	for _, owner := range owners {
		set := x.byOwner[owner]
		delete(set, transferID)
		if len(set) == 0 {
			delete(x.byOwner, owner)
		}
	}
	return owners, true
}

// RemoveOwner drops owner from transferID and reports whether it was
// listed. The transfer stays indexed while it has other owners.
func (x *OwnerIndex) RemoveOwner(transferID, owner string) bool {
	owners := x.owners[transferID]
	i := slices.Index(owners, owner)
	if i < 0 {
		return false
	}
	owners = slices.Delete(owners, i, i+1)
	if len(owners) == 0 {
		delete(x.owners, transferID)
	} else {
		x.owners[transferID] = owners
	}

	set := x.byOwner[owner]
	delete(set, transferID)
	if len(set) == 0 {
		delete(x.byOwner, owner)
	}
	return true
}

// Owned returns the transfer ids owned by clientID in sorted order.
func (x *OwnerIndex) Owned(clientID string) []string {
	set := x.byOwner[clientID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}

// CountOwned returns how many transfers clientID takes part in.
func (x *OwnerIndex) CountOwned(clientID string) int {
	return len(x.byOwner[clientID])
}

// Len returns the number of indexed transfers.
func (x *OwnerIndex) Len() int {
	return len(x.owners)
}
