// Package snapshot maintains, per user, a JSON document of derived state
// (account balances, positions, open orders — whatever a client session
// needs to resynchronize) plus the queue of merge-patch updates that have
// been applied to it since the last time a subscriber drained it.
//
// Patches follow RFC 7386 JSON Merge Patch semantics: a patch value of
// null deletes the corresponding key, an object value recurses, and
// anything else replaces the target value wholesale.
package snapshot

// mergePatch returns the result of applying patch to target, following
// RFC 7386. target itself is not modified: objects are merged into copies.
// target and patch are both the generic map/slice/scalar shape
// segmentio/encoding/json produces when unmarshaling into interface{}.
func mergePatch(target, patch any) any {
	patchObj, ok := patch.(map[string]any)
	if !ok {
		// Rule 1: a non-object patch replaces the target outright.
		return patch
	}

	targetObj, ok := target.(map[string]any)
	if !ok {
		// Rule 2: a non-object target is replaced with an empty object
		// before merging in, so every patch key still lands.
		targetObj = make(map[string]any)
	} else {
		// Don't mutate the caller's map in place; merge into a copy so a
		// concurrent reader of the old document snapshot isn't corrupted.
		copied := make(map[string]any, len(targetObj))
		for k, v := range targetObj {
			copied[k] = v
		}
		targetObj = copied
	}

	for key, value := range patchObj {
		if value == nil {
			delete(targetObj, key)
			continue
		}
		if _, isObj := value.(map[string]any); isObj {
			targetObj[key] = mergePatch(targetObj[key], value)
			continue
		}
		targetObj[key] = value
	}

	return targetObj
}

// applyPatches applies patches to snapshot in order and returns the
// resulting document.
func applyPatches(snap any, patches []any) any {
	for _, p := range patches {
		snap = mergePatch(snap, p)
	}
	return snap
}

// createPatch computes the minimal RFC 7386 merge patch that transforms
// original into updated: changed or removed keys (removed as null),
// recursing into nested objects so an unrelated sibling key isn't
// rewritten, plus keys added in updated.
func createPatch(original, updated any) any {
	originalObj, origIsObj := original.(map[string]any)
	updatedObj, updIsObj := updated.(map[string]any)
	if !origIsObj || !updIsObj {
		return updated
	}

	patch := make(map[string]any)

	for key, origVal := range originalObj {
		updVal, exists := updatedObj[key]
		if !exists {
			patch[key] = nil
			continue
		}
		if deepEqual(origVal, updVal) {
			continue
		}
		_, origNested := origVal.(map[string]any)
		_, updNested := updVal.(map[string]any)
		if origNested && updNested {
			nested := createPatch(origVal, updVal)
			if nestedObj, ok := nested.(map[string]any); !ok || len(nestedObj) > 0 {
				patch[key] = nested
			}
			continue
		}
		patch[key] = updVal
	}

	for key, updVal := range updatedObj {
		if _, exists := originalObj[key]; !exists {
			patch[key] = updVal
		}
	}

	return patch
}

func deepEqual(a, b any) bool {
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap != bIsMap {
		return false
	}
	if aIsMap {
		if len(am) != len(bm) {
			return false
		}
		for k, av := range am {
			bv, ok := bm[k]
			if !ok || !deepEqual(av, bv) {
				return false
			}
		}
		return true
	}

	as, aIsSlice := a.([]any)
	bs, bIsSlice := b.([]any)
	if aIsSlice != bIsSlice {
		return false
	}
	if aIsSlice {
		if len(as) != len(bs) {
			return false
		}
		for i := range as {
			if !deepEqual(as[i], bs[i]) {
				return false
			}
		}
		return true
	}

	return a == b
}
