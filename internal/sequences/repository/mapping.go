package repository

import "github.com/google/uuid"

// ResolveStageMapping pairs old stages with their successors in the new
// list. Explicit ReplacesStageID pairs from the incoming inputs win;
// the remaining old stages fall back to the MapStages heuristic against
// the new stages no explicit pair has claimed. incoming and created are
// index-aligned.
func ResolveStageMapping(old, created []Stage, incoming []StageInput) map[uuid.UUID]uuid.UUID {
	mapping := make(map[uuid.UUID]uuid.UUID, len(old))
	claimed := make(map[uuid.UUID]bool)

	oldIDs := make(map[uuid.UUID]bool, len(old))
	for _, o := range old {
		oldIDs[o.ID] = true
	}
	for i, in := range incoming {
		if i >= len(created) || in.ReplacesStageID == nil {
			continue
		}
		if !oldIDs[*in.ReplacesStageID] {
			continue
		}
		mapping[*in.ReplacesStageID] = created[i].ID
		claimed[created[i].ID] = true
	}

	var freeOld []Stage
	for _, o := range old {
		if _, ok := mapping[o.ID]; !ok {
			freeOld = append(freeOld, o)
		}
	}
	var freeNew []Stage
	for _, n := range created {
		if !claimed[n.ID] {
			freeNew = append(freeNew, n)
		}
	}
	for oldID, newID := range MapStages(freeOld, freeNew) {
		mapping[oldID] = newID
	}
	return mapping
}

// MapStages pairs each old stage with its best match in the new list so
// that in-flight enrollments survive a sequence edit. Matching tries, in
// order: identical name, type and content; identical name and type; then
// identical type and content. Ties break on the nearest order index. Old
// stages with no match are left out of the map and stay deactivated.
func MapStages(old, created []Stage) map[uuid.UUID]uuid.UUID {
	mapping := make(map[uuid.UUID]uuid.UUID, len(old))

	for _, o := range old {
		candidates := filterStages(created, func(n Stage) bool {
			return n.Name == o.Name && n.Type == o.Type && n.Content == o.Content
		})
		if len(candidates) == 0 {
			candidates = filterStages(created, func(n Stage) bool {
				return n.Name == o.Name && n.Type == o.Type
			})
		}
		if len(candidates) == 0 {
			candidates = filterStages(created, func(n Stage) bool {
				return n.Type == o.Type && n.Content == o.Content
			})
		}
		if len(candidates) == 0 {
			continue
		}

		best := candidates[0]
		for _, c := range candidates[1:] {
			if absInt(c.OrderIndex-o.OrderIndex) < absInt(best.OrderIndex-o.OrderIndex) {
				best = c
			}
		}
		mapping[o.ID] = best.ID
	}
	return mapping
}

func filterStages(stages []Stage, keep func(Stage) bool) []Stage {
	var out []Stage
	for _, s := range stages {
		if keep(s) {
			out = append(out, s)
		}
	}
	return out
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
