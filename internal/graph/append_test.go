package graph

import (
	"errors"
	"sync"
	"testing"
)

func TestAppend_Empty(t *testing.T) {
	g := mustBuild(t, commit("B", "A"), commit("A"))
	before := g.Nodes()
	version := g.Version()

	if err := g.Append(nil); err != nil {
		t.Fatalf("appending empty batch: %v", err)
	}

	if g.RowCount() != len(before) {
		t.Errorf("row count changed: %d -> %d", len(before), g.RowCount())
	}
	for _, n := range before {
		if g.RowByHash(n.Hash) != n.Row {
			t.Errorf("row of %s changed", n.Hash)
		}
	}
	if g.Version() != version {
		t.Errorf("version changed on empty append: %d -> %d", version, g.Version())
	}
}

func TestAppend_NewChild(t *testing.T) {
	g := mustBuild(t, commit("C", "A", "B"), commit("A"), commit("B"))
	old := g.RowCount()

	if err := g.Append([]Commit{commit("D", "C")}); err != nil {
		t.Fatalf("appending: %v", err)
	}
	checkRows(t, g)

	if g.RowCount() != old+1 {
		t.Fatalf("expected %d rows, got %d", old+1, g.RowCount())
	}
	d := mustNode(t, g, "D")
	c := mustNode(t, g, "C")
	if d.Row != old {
		t.Errorf("D row = %d, want %d", d.Row, old)
	}
	if got := downRows(d); len(got) != 1 || got[0] != c.Row {
		t.Errorf("D parents = %v, want [%d]", got, c.Row)
	}

	found := false
	for _, r := range upRows(c) {
		if r == d.Row {
			found = true
		}
	}
	if !found {
		t.Errorf("C up edges %v do not include D", upRows(c))
	}
	if g.Version() != 2 {
		t.Errorf("expected version 2, got %d", g.Version())
	}
}

func TestAppend_ResolvesFakeNode(t *testing.T) {
	g := mustBuild(t, commit("C", "B"), commit("B", "A"))
	fake, ok := g.FakeNodeByHash(hashOf("A"), true)
	if !ok {
		t.Fatal("expected fake node for A")
	}
	rows := g.RowCount()

	if err := g.Append([]Commit{commit("A", "Z")}); err != nil {
		t.Fatalf("appending: %v", err)
	}
	checkRows(t, g)

	if _, ok := g.FakeNodeByHash(hashOf("A"), true); ok {
		t.Error("fake node for A still present after resolution")
	}
	if _, ok := g.NodeByHash(fake.Hash); ok {
		t.Error("fake hash still resolvable")
	}

	a := mustNode(t, g, "A")
	if a.Fake {
		t.Error("resolved node still marked fake")
	}
	if a.Row != fake.Row {
		t.Errorf("resolved node moved from row %d to %d", fake.Row, a.Row)
	}

	b := mustNode(t, g, "B")
	if got := downRows(b); len(got) != 1 || got[0] != a.Row {
		t.Errorf("B parents = %v, want [%d]", got, a.Row)
	}
	if got := upRows(a); len(got) != 1 || got[0] != b.Row {
		t.Errorf("A children = %v, want [%d]", got, b.Row)
	}

	// A's own missing parent Z is a new fake row at the end.
	if g.RowCount() != rows+1 {
		t.Errorf("expected %d rows, got %d", rows+1, g.RowCount())
	}
	z, ok := g.FakeNodeByHash(hashOf("Z"), true)
	if !ok || z.Row != rows {
		t.Errorf("expected fake Z at row %d, got %+v", rows, z)
	}
}

func TestAppend_ParentIsExistingFake(t *testing.T) {
	g := mustBuild(t, commit("B", "X"))
	fake, _ := g.FakeNodeByHash(hashOf("X"), true)

	if err := g.Append([]Commit{commit("C", "X")}); err != nil {
		t.Fatalf("appending: %v", err)
	}

	c := mustNode(t, g, "C")
	if got := downRows(c); len(got) != 1 || got[0] != fake.Row {
		t.Errorf("C parents = %v, want shared fake row %d", got, fake.Row)
	}
	if g.RowCount() != 3 {
		t.Errorf("expected 3 rows, got %d", g.RowCount())
	}
}

func TestAppend_DuplicateIsAtomic(t *testing.T) {
	g := mustBuild(t, commit("B", "A"), commit("A"))
	before := g.Nodes()
	version := g.Version()

	err := g.Append([]Commit{commit("C", "B"), commit("A")})
	var dup *DuplicateCommitError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateCommitError, got %v", err)
	}

	if g.RowCount() != len(before) {
		t.Errorf("partial append visible: %d rows, want %d", g.RowCount(), len(before))
	}
	if _, ok := g.NodeByHash(hashOf("C")); ok {
		t.Error("C was added despite failed append")
	}
	b := mustNode(t, g, "B")
	if len(b.Up) != 0 {
		t.Errorf("B gained edges from failed append: %v", b.Up)
	}
	if g.Version() != version {
		t.Errorf("version changed on failed append")
	}
}

func TestAppend_DuplicateWithinBatch(t *testing.T) {
	g := mustBuild(t, commit("A"))
	err := g.Append([]Commit{commit("B", "A"), commit("B", "A")})
	var dup *DuplicateCommitError
	if !errors.As(err, &dup) {
		t.Fatalf("expected DuplicateCommitError, got %v", err)
	}
	if g.RowCount() != 1 {
		t.Errorf("expected 1 row, got %d", g.RowCount())
	}
}

func TestAppend_ExistingRowsNeverRenumbered(t *testing.T) {
	g := mustBuild(t, commit("C", "B"), commit("B", "A"), commit("A"))
	before := g.Nodes()

	batches := [][]Commit{
		{commit("D", "C")},
		{commit("F", "E"), commit("E", "D")},
		{commit("G", "F", "B")},
	}
	for _, batch := range batches {
		if err := g.Append(batch); err != nil {
			t.Fatalf("appending: %v", err)
		}
	}
	checkRows(t, g)

	for _, n := range before {
		if got := g.RowByHash(n.Hash); got != n.Row {
			t.Errorf("%s moved from row %d to %d", n.Hash, n.Row, got)
		}
	}
	// Within one batch children still precede parents.
	if g.RowByHash(hashOf("F")) > g.RowByHash(hashOf("E")) {
		t.Error("F should precede its parent E within the batch")
	}
}

func TestAppend_ConcurrentReaders(t *testing.T) {
	g := mustBuild(t, commit("A"))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				g.View(func(v *View) error {
					for row := 0; row < v.RowCount(); row++ {
						for _, e := range v.Down(row) {
							if e.Down >= v.RowCount() {
								t.Errorf("edge to row %d outside %d rows", e.Down, v.RowCount())
							}
						}
					}
					return nil
				})
			}
		}()
	}

	prev := "A"
	for i := 0; i < 50; i++ {
		name := string(rune('a'+i%26)) + string(rune('a'+i/26))
		if err := g.Append([]Commit{commit(name, prev)}); err != nil {
			t.Fatalf("appending %s: %v", name, err)
		}
		prev = name
	}
	close(stop)
	wg.Wait()

	if g.RowCount() != 51 {
		t.Errorf("expected 51 rows, got %d", g.RowCount())
	}
}

func TestAppend_ResolvedFakeKeepsUpEdgesSorted(t *testing.T) {
	g := mustBuild(t, commit("B", "Y"), commit("C", "X"), commit("Y"))
	if err := g.Append([]Commit{commit("D", "Y")}); err != nil {
		t.Fatalf("appending D: %v", err)
	}
	before := mustNode(t, g, "Y")

	// X resolves its fake at row 3, below D at row 4.
	if err := g.Append([]Commit{commit("X", "Y")}); err != nil {
		t.Fatalf("appending X: %v", err)
	}

	y := mustNode(t, g, "Y")
	got := upRows(y)
	want := []int{0, 3, 4}
	if len(got) != len(want) {
		t.Fatalf("Y children = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Y children = %v, want %v", got, want)
		}
	}
	if rows := upRows(before); len(rows) != 2 || rows[1] != 4 {
		t.Errorf("earlier copy of Y changed: %v", rows)
	}
}
