// Package conflict provides unit tests for conflict resolution.
package conflict

import (
	"errors"
	"fmt"
	"testing"
)

func newConflict() *Conflict {
	r := NewResolver(nil)
	return r.DetectConflict("item-1",
		map[string]interface{}{"title": "Local Title", "tags": []interface{}{"a"}},
		map[string]interface{}{"title": "Remote Title", "starred": true},
	)
}

// TestDetectConflict verifies ids and defensive copies.
func TestDetectConflict(t *testing.T) {
	local := map[string]interface{}{"title": "L"}
	c := NewResolver(nil).DetectConflict("item-1", local, map[string]interface{}{"title": "R"})

	if c.ConflictID == "" {
		t.Error("Expected conflict id to be set")
	}
	if c.ItemID != "item-1" {
		t.Errorf("ItemID = %s, want item-1", c.ItemID)
	}
	if c.DetectedAt.IsZero() {
		t.Error("Expected DetectedAt to be set")
	}

	local["title"] = "changed"
	if c.Local["title"] != "L" {
		t.Error("Conflict should hold a copy of the local payload")
	}

	rec := c.Record()
	if rec.ConflictID != c.ConflictID || rec.MutationID != "item-1" {
		t.Errorf("Record() = %+v", rec)
	}
}

// TestResolveUseLocal verifies the local payload is re-sent.
func TestResolveUseLocal(t *testing.T) {
	c := newConflict()

	result, err := ResolveWith(c, UseLocal())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.Action != ActionSend {
		t.Errorf("Action = %s, want send", result.Action)
	}
	if result.Payload["title"] != "Local Title" {
		t.Errorf("Payload title = %v, want Local Title", result.Payload["title"])
	}
	if result.Strategy != ResolutionStrategyUseLocal {
		t.Errorf("Strategy = %s", result.Strategy)
	}
}

// TestResolveUseRemote verifies the local mutation is discarded with no payload to send.
func TestResolveUseRemote(t *testing.T) {
	c := newConflict()

	result, err := ResolveWith(c, UseRemote())
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.Action != ActionDiscard {
		t.Errorf("Action = %s, want discard", result.Action)
	}
	if result.Payload != nil {
		t.Errorf("Payload = %v, want nil", result.Payload)
	}
	if result.Remote["title"] != "Remote Title" {
		t.Errorf("Remote title = %v", result.Remote["title"])
	}
}

// TestResolveMerge verifies the merge function output is sent.
func TestResolveMerge(t *testing.T) {
	c := newConflict()

	merge := func(local, remote map[string]interface{}) (map[string]interface{}, error) {
		out := map[string]interface{}{}
		for k, v := range remote {
			out[k] = v
		}
		for k, v := range local {
			out[k] = v
		}
		return out, nil
	}

	result, err := ResolveWith(c, Merge(merge))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	if result.Action != ActionSend {
		t.Errorf("Action = %s, want send", result.Action)
	}
	if result.Payload["title"] != "Local Title" || result.Payload["starred"] != true {
		t.Errorf("merged payload = %v", result.Payload)
	}
}

// TestResolveMergeCannotMutateConflict verifies the merge function gets copies.
func TestResolveMergeCannotMutateConflict(t *testing.T) {
	c := newConflict()

	_, err := ResolveWith(c, Merge(func(local, remote map[string]interface{}) (map[string]interface{}, error) {
		local["title"] = "scribbled"
		return local, nil
	}))
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if c.Local["title"] != "Local Title" {
		t.Error("merge function should not see the conflict's own payload")
	}
}

// TestResolveErrors verifies every unresolvable case returns a ConflictError.
func TestResolveErrors(t *testing.T) {
	boom := errors.New("boom")

	tests := []struct {
		name   string
		choice Choice
		want   error
	}{
		{"no strategy", Choice{}, ErrConflictUnresolved},
		{"merge without func", Choice{Strategy: ResolutionStrategyMerge}, ErrMergeFuncMissing},
		{"merge returns nil", Merge(func(_, _ map[string]interface{}) (map[string]interface{}, error) { return nil, nil }), ErrMergeEmpty},
		{"merge fails", Merge(func(_, _ map[string]interface{}) (map[string]interface{}, error) { return nil, boom }), boom},
		{"unknown strategy", Choice{Strategy: "last_write_wins"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ResolveWith(newConflict(), tt.choice)
			if err == nil {
				t.Fatal("Expected error")
			}
			if !IsConflictError(err) {
				t.Errorf("Expected ConflictError, got %T", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

// TestResolverPolicy verifies the resolver consults its policy per conflict.
func TestResolverPolicy(t *testing.T) {
	var seen []string
	r := NewResolver(func(c *Conflict) Choice {
		seen = append(seen, c.ItemID)
		if c.ItemID == "keep-remote" {
			return UseRemote()
		}
		return UseLocal()
	})

	for _, id := range []string{"keep-local", "keep-remote"} {
		c := r.DetectConflict(id, map[string]interface{}{}, map[string]interface{}{})
		result, err := r.Resolve(c)
		if err != nil {
			t.Fatalf("Resolve(%s) failed: %v", id, err)
		}
		want := ActionSend
		if id == "keep-remote" {
			want = ActionDiscard
		}
		if result.Action != want {
			t.Errorf("Resolve(%s) action = %s, want %s", id, result.Action, want)
		}
	}

	if fmt.Sprint(seen) != "[keep-local keep-remote]" {
		t.Errorf("policy saw %v", seen)
	}
}

// TestResolverNilPolicy verifies no policy means unresolved, never a default winner.
func TestResolverNilPolicy(t *testing.T) {
	r := NewResolver(nil)
	_, err := r.Resolve(newConflict())
	if !errors.Is(err, ErrConflictUnresolved) {
		t.Errorf("err = %v, want ErrConflictUnresolved", err)
	}
}

// TestIsConflictError verifies type detection through wrapping.
func TestIsConflictError(t *testing.T) {
	if !IsConflictError(fmt.Errorf("item A: %w", ErrMergeFuncMissing)) {
		t.Error("Expected wrapped ConflictError to be detected")
	}
	if IsConflictError(errors.New("other")) {
		t.Error("Expected plain error not to be a ConflictError")
	}
	if IsConflictError(nil) {
		t.Error("Expected nil not to be a ConflictError")
	}
}
