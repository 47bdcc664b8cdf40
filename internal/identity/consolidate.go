package identity

import (
	"slices"

	"github.com/starford/contactlink/internal/models"
)

// consolidate builds the response view of a cluster. The primary's own email
// and phone lead their lists; the rest follow in order of first appearance by
// created_at. Lists are never nil.
func consolidate(primary models.Contact, cluster []models.Contact) *models.ConsolidatedIdentity {
	rows := slices.Clone(cluster)
	sortContacts(rows)

	out := &models.ConsolidatedIdentity{
		PrimaryContactID:    primary.ID,
		Emails:              []string{},
		PhoneNumbers:        []string{},
		SecondaryContactIDs: []int64{},
	}
	emails := newOrderedSet(&out.Emails)
	phones := newOrderedSet(&out.PhoneNumbers)

	emails.add(primary.Email)
	phones.add(primary.PhoneNumber)
	for _, c := range rows {
		emails.add(c.Email)
		phones.add(c.PhoneNumber)
		if c.ID != primary.ID && !c.IsPrimary() {
			out.SecondaryContactIDs = append(out.SecondaryContactIDs, c.ID)
		}
	}
	return out
}

func sortContacts(rows []models.Contact) {
	slices.SortStableFunc(rows, func(a, b models.Contact) int {
		switch {
		case a.OlderThan(b):
			return -1
		case b.OlderThan(a):
			return 1
		}
		return 0
	})
}

type orderedSet struct {
	dst  *[]string
	seen map[string]struct{}
}

func newOrderedSet(dst *[]string) *orderedSet {
	return &orderedSet{dst: dst, seen: make(map[string]struct{})}
}

func (s *orderedSet) add(v *string) {
	if v == nil || *v == "" {
		return
	}
	if _, ok := s.seen[*v]; ok {
		return
	}
	s.seen[*v] = struct{}{}
	*s.dst = append(*s.dst, *v)
}
