package pathplanner

import "github.com/tiiuae/survey-guidance/internal/types"

// Breadcrumbs is the refined sub-path of one mission leg, consumed front to
// back.
type Breadcrumbs struct {
	crumbs []types.Waypoint
	next   int
}

func NewBreadcrumbs(crumbs []types.Waypoint) *Breadcrumbs {
	return &Breadcrumbs{crumbs: crumbs}
}

// Next pops the front breadcrumb.
func (b *Breadcrumbs) Next() (types.Waypoint, bool) {
	if b.Exhausted() {
		return types.Waypoint{}, false
	}
	wp := b.crumbs[b.next]
	b.next++
	return wp, true
}

func (b *Breadcrumbs) Exhausted() bool {
	return b.next >= len(b.crumbs)
}
