package hat

import "testing"

func TestRegistryMatchGlob(t *testing.T) {
	r, err := NewRegistry([]Hat{
		{Name: "builder", Subscriptions: []string{"task.start"}, Publications: []string{"build.done"}, Instructions: "build it"},
		{Name: "watcher", Subscriptions: []string{"build.*"}, Publications: []string{"watch.alert"}, Instructions: "watch it"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}

	got := r.Match("build.done")
	if len(got) != 1 || got[0].Name != "watcher" {
		t.Fatalf("expected only watcher to match build.done, got %+v", got)
	}

	got = r.Match("task.start")
	if len(got) != 1 || got[0].Name != "builder" {
		t.Fatalf("expected only builder to match task.start, got %+v", got)
	}
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	_, err := NewRegistry([]Hat{
		{Name: "dup", Subscriptions: []string{"a"}, Publications: []string{"b"}, Instructions: "x"},
		{Name: "dup", Subscriptions: []string{"c"}, Publications: []string{"d"}, Instructions: "y"},
	})
	if err == nil {
		t.Fatal("expected error for duplicate hat name")
	}
}

func TestMayPublishEnforcesAllowList(t *testing.T) {
	h := &Hat{Name: "builder", Subscriptions: []string{"task.start"}, Publications: []string{"build.done"}}
	if err := h.Compile(); err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !h.MayPublish("build.done") {
		t.Fatal("expected build.done to be allowed")
	}
	if h.MayPublish("build.other") {
		t.Fatal("expected build.other to be disallowed")
	}
}

func TestImplicitHatAllowsAnyPublication(t *testing.T) {
	h, err := ImplicitHat("task.start")
	if err != nil {
		t.Fatalf("ImplicitHat: %v", err)
	}
	if !h.Matches("task.start") {
		t.Fatal("implicit hat should match its start topic")
	}
	if !h.MayPublish("anything.goes") {
		t.Fatal("implicit hat should allow any publication")
	}
}
