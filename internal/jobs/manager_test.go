package jobs

import (
	"testing"
)

func TestManagerCreateAndList(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	j, ok := m.Create("in.h264", "out.hevc")
	if !ok || j == nil {
		t.Fatal("Create returned not-ok for new output")
	}
	if j.Input != "in.h264" || j.Output != "out.hevc" {
		t.Errorf("job = %+v", j)
	}
	if j.StartedAt.IsZero() {
		t.Error("StartedAt should not be zero")
	}

	k, _ := m.Create("b.h264", "b.hevc")
	if j.ID == k.ID {
		t.Error("jobs share an ID")
	}

	jobs := m.List()
	if len(jobs) != 2 || jobs[0] != j || jobs[1] != k {
		t.Errorf("List = %v, want oldest first", jobs)
	}
}

func TestManagerCreateDuplicate(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	if _, ok := m.Create("a", "out"); !ok {
		t.Fatal("first Create should succeed")
	}
	j, ok := m.Create("b", "out")
	if ok || j != nil {
		t.Error("duplicate output should be rejected")
	}
}

func TestManagerRemove(t *testing.T) {
	t.Parallel()
	m := NewManager(nil)

	j, _ := m.Create("a", "out")
	m.Remove("out")

	select {
	case <-j.Done():
	default:
		t.Error("Done should be closed after Remove")
	}
	if len(m.List()) != 0 {
		t.Error("List should be empty after Remove")
	}
	if _, ok := m.Create("a", "out"); !ok {
		t.Error("output should be reusable after Remove")
	}

	m.Remove("never-created")
}
