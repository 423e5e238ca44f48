package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// Test vectors from RFC 7386 Appendix A.
func TestMergePatchRFC7386Vectors(t *testing.T) {
	cases := []struct {
		name     string
		original any
		patch    any
		want     any
	}{
		{"replace scalar", map[string]any{"a": "b"}, map[string]any{"a": "c"}, map[string]any{"a": "c"}},
		{"add key", map[string]any{"a": "b"}, map[string]any{"b": "c"}, map[string]any{"a": "b", "b": "c"}},
		{"delete key", map[string]any{"a": "b"}, map[string]any{"a": nil}, map[string]any{}},
		{"delete one of two keys", map[string]any{"a": "b", "b": "c"}, map[string]any{"a": nil}, map[string]any{"b": "c"}},
		{"array replaced by scalar", map[string]any{"a": []any{"b"}}, map[string]any{"a": "c"}, map[string]any{"a": "c"}},
		{"scalar replaced by array", map[string]any{"a": "c"}, map[string]any{"a": []any{"b"}}, map[string]any{"a": []any{"b"}}},
		{
			"nested merge with delete",
			map[string]any{"a": map[string]any{"b": "c"}},
			map[string]any{"a": map[string]any{"b": "d", "c": nil}},
			map[string]any{"a": map[string]any{"b": "d"}},
		},
		{
			"array wholesale replace",
			map[string]any{"a": []any{map[string]any{"b": "c"}}},
			map[string]any{"a": []any{float64(1)}},
			map[string]any{"a": []any{float64(1)}},
		},
		{"top-level array replace", []any{"a", "b"}, []any{"c", "d"}, []any{"c", "d"}},
		{"object replaced by array", map[string]any{"a": "b"}, []any{"c"}, []any{"c"}},
		{"object replaced by null", map[string]any{"a": "foo"}, nil, nil},
		{"object replaced by scalar", map[string]any{"a": "foo"}, "bar", "bar"},
		{"null-valued key preserved", map[string]any{"e": nil}, map[string]any{"a": float64(1)}, map[string]any{"e": nil, "a": float64(1)}},
		{
			"non-object target becomes object",
			[]any{float64(1), float64(2)},
			map[string]any{"a": "b", "c": nil},
			map[string]any{"a": "b"},
		},
		{
			"nested object created then emptied",
			map[string]any{},
			map[string]any{"a": map[string]any{"bb": map[string]any{"ccc": nil}}},
			map[string]any{"a": map[string]any{"bb": map[string]any{}}},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := mergePatch(c.original, c.patch)
			assert.True(t, deepEqual(c.want, got), "mergePatch(%v, %v) = %v, want %v", c.original, c.patch, got, c.want)
		})
	}
}

func TestCreatePatchThenApplyRecoversUpdated(t *testing.T) {
	cases := []struct {
		name     string
		original any
		updated  any
	}{
		{
			"field updated, removed, added",
			map[string]any{"a": float64(1), "b": float64(2), "c": float64(3)},
			map[string]any{"a": float64(1), "b": float64(99), "d": float64(4)},
		},
		{
			"nested object partially changed",
			map[string]any{"user": map[string]any{"name": "Alice", "age": float64(30)}},
			map[string]any{"user": map[string]any{"name": "Alice", "age": float64(31), "city": "Beijing"}},
		},
		{
			"unrelated sibling untouched",
			map[string]any{"a": map[string]any{"x": float64(1)}, "b": map[string]any{"y": float64(2)}},
			map[string]any{"a": map[string]any{"x": float64(1)}, "b": map[string]any{"y": float64(3)}},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			patch := createPatch(c.original, c.updated)
			got := mergePatch(c.original, patch)
			assert.True(t, deepEqual(c.updated, got), "apply(createPatch(original, updated), original) = %v, want %v", got, c.updated)
		})
	}
}

func TestApplyPatchesInOrder(t *testing.T) {
	snap := map[string]any{
		"trade": map[string]any{
			"accounts": map[string]any{
				"ACC001": map[string]any{"balance": float64(100000)},
			},
		},
	}

	patches := []any{
		map[string]any{"trade": map[string]any{"accounts": map[string]any{"ACC001": map[string]any{"balance": float64(105000)}}}},
		map[string]any{"trade": map[string]any{"accounts": map[string]any{"ACC001": map[string]any{"available": float64(100000)}}}},
	}

	got := applyPatches(snap, patches)
	want := map[string]any{
		"trade": map[string]any{
			"accounts": map[string]any{
				"ACC001": map[string]any{"balance": float64(105000), "available": float64(100000)},
			},
		},
	}
	assert.True(t, deepEqual(want, got))
}
