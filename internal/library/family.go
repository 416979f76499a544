package library

import (
	"slices"
	"sort"
)

// Supersede marks book as the newest edition of its family: every other
// ready book in the same family gains book.BookID in superseded_by, and
// book.supersedes lists them. Books in error are left alone.
func (l *Library) Supersede(book *Book) {
	key := FamilyKey(book.Filename)
	var superseded []string
	for _, other := range l.Books {
		if other.BookID == book.BookID || other.Status != StatusReady {
			continue
		}
		if FamilyKey(other.Filename) != key {
			continue
		}
		superseded = append(superseded, other.BookID)
		if !slices.Contains(other.SupersededBy, book.BookID) {
			other.SupersededBy = append(other.SupersededBy, book.BookID)
		}
	}
	book.Supersedes = superseded
}

// InferSupersedes fills in family links for ready books that have none,
// treating the most recently updated edition as current. Used when the
// registry is rebuilt from disk.
func InferSupersedes(books []*Book) {
	families := map[string][]*Book{}
	for _, b := range books {
		if b.Status != StatusReady {
			continue
		}
		key := FamilyKey(b.Filename)
		families[key] = append(families[key], b)
	}

	for _, b := range books {
		if b.Status != StatusReady || len(b.Supersedes) > 0 || len(b.SupersededBy) > 0 {
			continue
		}
		family := families[FamilyKey(b.Filename)]
		if len(family) < 2 {
			continue
		}
		byUpdated := slices.Clone(family)
		sort.SliceStable(byUpdated, func(i, j int) bool {
			return byUpdated[i].UpdatedAt.After(byUpdated[j].UpdatedAt)
		})
		latest := byUpdated[0]
		if latest.BookID == b.BookID {
			for _, old := range byUpdated[1:] {
				b.Supersedes = append(b.Supersedes, old.BookID)
				if !slices.Contains(old.SupersededBy, b.BookID) {
					old.SupersededBy = append(old.SupersededBy, b.BookID)
				}
			}
		} else {
			b.SupersededBy = []string{latest.BookID}
		}
	}
}

// ActiveByFamily maps each family key to the book id of its newest ready edition.
func (l *Library) ActiveByFamily() map[string]string {
	active := map[string]*Book{}
	for _, b := range l.Ready() {
		key := FamilyKey(b.Filename)
		if cur, ok := active[key]; !ok || b.UpdatedAt.After(cur.UpdatedAt) {
			active[key] = b
		}
	}
	out := make(map[string]string, len(active))
	for k, b := range active {
		out[k] = b.BookID
	}
	return out
}
