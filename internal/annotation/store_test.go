package annotation

import (
	"reflect"
	"testing"
	"time"
)

func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

func createOp(id string, ts int64) *Op {
	return &Op{Kind: OpCreate, ID: id, Annotation: &Annotation{
		ID:         id,
		Kind:       KindRectangle,
		PageNumber: 1,
		X:          10, Y: 20, Width: 30, Height: 40,
		Color:     "#ffd54f",
		AuthorID:  "alice",
		CreatedAt: ts,
	}}
}

// permutations returns every ordering of ops (n is small in these tests).
func permutations(ops []*Op) [][]*Op {
	if len(ops) <= 1 {
		return [][]*Op{append([]*Op(nil), ops...)}
	}
	var out [][]*Op
	for i := range ops {
		rest := make([]*Op, 0, len(ops)-1)
		rest = append(rest, ops[:i]...)
		rest = append(rest, ops[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]*Op{ops[i]}, p...))
		}
	}
	return out
}

// applyAll feeds ops into a fresh store and returns the visible result.
func applyAll(ops []*Op) []Annotation {
	s := NewStore()
	for _, op := range ops {
		s.Apply(op)
	}
	return s.SelectByPage(1)
}

// Convergence is the core property of the store: every replica must reach
// the same state from the same op set regardless of arrival order.
func TestApplyConvergesUnderAnyOrder(t *testing.T) {
	tests := []struct {
		name string
		ops  []*Op
	}{
		{
			name: "create then concurrent field edits",
			ops: []*Op{
				createOp("a1", 100),
				{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Color: strPtr("#ff0000")}, TS: 150},
				{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{X: f64Ptr(99)}, TS: 140},
				{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Color: strPtr("#00ff00")}, TS: 145},
			},
		},
		{
			name: "delete races an older edit",
			ops: []*Op{
				createOp("a1", 100),
				{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Content: strPtr("hello")}, TS: 120},
				{Kind: OpDelete, ID: "a1", TS: 130},
			},
		},
		{
			name: "edit newer than delete resurrects",
			ops: []*Op{
				createOp("a1", 100),
				{Kind: OpDelete, ID: "a1", TS: 130},
				{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Content: strPtr("back")}, TS: 140},
			},
		},
		{
			name: "two annotations with replies",
			ops: []*Op{
				createOp("a1", 100),
				createOp("a2", 110),
				{Kind: OpReply, ID: "a1", Reply: &Reply{ID: "r1", AuthorID: "bob", Content: "hi", CreatedAt: 120}},
				{Kind: OpUpdate, ID: "a2", Patch: &FieldPatch{Y: f64Ptr(7)}, TS: 130},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := applyAll(tt.ops)
			for i, perm := range permutations(tt.ops) {
				if got := applyAll(perm); !reflect.DeepEqual(got, want) {
					t.Fatalf("permutation %d diverged:\ngot  %+v\nwant %+v", i, got, want)
				}
			}
		})
	}
}

func TestPerFieldLastWriterWins(t *testing.T) {
	s := NewStore()
	s.Apply(createOp("a1", 100))
	s.Apply(&Op{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Color: strPtr("#ff0000"), Content: strPtr("v2")}, TS: 200})
	// Older op touching color only: color must stay, content untouched.
	if s.Apply(&Op{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Color: strPtr("#0000ff")}, TS: 150}) {
		t.Error("stale color update reported as applied")
	}
	// Newer op touching x must land even though color clock is ahead.
	s.Apply(&Op{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{X: f64Ptr(55)}, TS: 180})

	a, ok := s.Get("a1")
	if !ok {
		t.Fatal("annotation missing")
	}
	if a.Color != "#ff0000" || a.Content != "v2" || a.X != 55 {
		t.Errorf("merged annotation = color %q content %q x %v", a.Color, a.Content, a.X)
	}
}

func TestEqualTimestampDoesNotApply(t *testing.T) {
	s := NewStore()
	s.Apply(createOp("a1", 100))
	s.Apply(&Op{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Color: strPtr("#111111")}, TS: 150})
	if s.Apply(&Op{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Color: strPtr("#222222")}, TS: 150}) {
		t.Error("update with equal timestamp applied; strictly-newer is required")
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	s := NewStore()
	op := createOp("a1", 100)
	if !s.Apply(op) {
		t.Fatal("first create not applied")
	}
	dup := createOp("a1", 100)
	dup.Annotation.Color = "#000000"
	if s.Apply(dup) {
		t.Error("duplicate create reported as applied")
	}
	if a, _ := s.Get("a1"); a.Color != "#ffd54f" {
		t.Errorf("duplicate create overwrote fields: color %q", a.Color)
	}
}

// An update can arrive before its create when the ops travelled through
// different peers. The record stays invisible until the create lands, but
// the newer field value must survive the create.
func TestUpdateBeforeCreate(t *testing.T) {
	s := NewStore()
	s.Apply(&Op{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Color: strPtr("#ff0000")}, TS: 200})

	if _, ok := s.Get("a1"); ok {
		t.Fatal("annotation visible before its create arrived")
	}
	if got := s.SelectByPage(1); len(got) != 0 {
		t.Fatalf("SelectByPage before create = %d entries", len(got))
	}

	s.Apply(createOp("a1", 100))
	a, ok := s.Get("a1")
	if !ok {
		t.Fatal("annotation missing after create")
	}
	if a.Color != "#ff0000" {
		t.Errorf("create clobbered newer update: color %q", a.Color)
	}
	if a.X != 10 {
		t.Errorf("untouched field lost: x %v", a.X)
	}
}

// A delete between an older edit and a newer create: the annotation stays
// visible because creation outranks the tombstone, and the stale edit never
// lands. All arrival orders must agree.
func TestDeleteOlderThanCreateLosesEverywhere(t *testing.T) {
	ops := []*Op{
		createOp("a1", 100),
		{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Color: strPtr("#ff0000")}, TS: 90},
		{Kind: OpDelete, ID: "a1", TS: 95},
	}
	for i, perm := range permutations(ops) {
		got := applyAll(perm)
		if len(got) != 1 {
			t.Fatalf("permutation %d: annotation not visible", i)
		}
		if got[0].Color != "#ffd54f" {
			t.Errorf("permutation %d: stale edit applied, color %q", i, got[0].Color)
		}
	}
}

func TestDeleteWins(t *testing.T) {
	s := NewStore()
	s.Apply(createOp("a1", 100))
	s.Apply(&Op{Kind: OpDelete, ID: "a1", TS: 150})

	if _, ok := s.Get("a1"); ok {
		t.Fatal("annotation visible after delete")
	}
	// Older edit cannot resurrect.
	s.Apply(&Op{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Content: strPtr("ghost")}, TS: 140})
	if _, ok := s.Get("a1"); ok {
		t.Fatal("older edit resurrected a tombstoned annotation")
	}
	// Strictly newer edit does.
	s.Apply(&Op{Kind: OpUpdate, ID: "a1", Patch: &FieldPatch{Content: strPtr("back")}, TS: 160})
	a, ok := s.Get("a1")
	if !ok {
		t.Fatal("newer edit failed to resurrect")
	}
	if a.Content != "back" {
		t.Errorf("content = %q, want %q", a.Content, "back")
	}
}

func TestReplies(t *testing.T) {
	s := NewStore()
	s.Apply(createOp("a1", 100))
	s.Apply(&Op{Kind: OpReply, ID: "a1", Reply: &Reply{ID: "r2", AuthorID: "bob", Content: "second", CreatedAt: 130}})
	s.Apply(&Op{Kind: OpReply, ID: "a1", Reply: &Reply{ID: "r1", AuthorID: "carol", Content: "first", CreatedAt: 120}})
	if s.Apply(&Op{Kind: OpReply, ID: "a1", Reply: &Reply{ID: "r1", AuthorID: "carol", Content: "first", CreatedAt: 120}}) {
		t.Error("duplicate reply applied")
	}

	a, _ := s.Get("a1")
	if len(a.Replies) != 2 || a.Replies[0].ID != "r1" || a.Replies[1].ID != "r2" {
		t.Fatalf("replies = %+v, want r1 then r2", a.Replies)
	}

	// Replies to a tombstoned annotation are dropped, not queued.
	s.Apply(&Op{Kind: OpDelete, ID: "a1", TS: 200})
	if s.Apply(&Op{Kind: OpReply, ID: "a1", Reply: &Reply{ID: "r3", AuthorID: "bob", Content: "late", CreatedAt: 210}}) {
		t.Error("reply to tombstoned annotation applied")
	}
}

func TestSelectByPageOrderAndFilter(t *testing.T) {
	s := NewStore()
	b := createOp("b", 200)
	a := createOp("a", 100)
	other := createOp("zz", 50)
	other.Annotation.PageNumber = 2
	tie := createOp("a0", 200)

	for _, op := range []*Op{b, a, other, tie} {
		s.Apply(op)
	}

	got := s.SelectByPage(1)
	ids := make([]string, len(got))
	for i, ann := range got {
		ids[i] = ann.ID
	}
	want := []string{"a", "a0", "b"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("render order = %v, want %v", ids, want)
	}
}

func TestHitTest(t *testing.T) {
	s := NewStore()
	s.Apply(createOp("a1", 100)) // box (10,20)-(40,60)
	miss := createOp("a2", 110)
	miss.Annotation.X = 500
	s.Apply(miss)

	if got := s.HitTest(1, 15, 25); len(got) != 1 || got[0] != "a1" {
		t.Errorf("HitTest inside = %v, want [a1]", got)
	}
	if got := s.HitTest(1, 300, 300); got != nil {
		t.Errorf("HitTest outside = %v, want none", got)
	}
}

func TestCompactRemovesOnlyExpiredTombstones(t *testing.T) {
	s := NewStore()
	now := time.Now()
	old := now.Add(-10 * time.Minute).UnixMilli()
	recent := now.Add(-1 * time.Minute).UnixMilli()

	s.Apply(createOp("old", old-1))
	s.Apply(&Op{Kind: OpDelete, ID: "old", TS: old})
	s.Apply(createOp("recent", recent-1))
	s.Apply(&Op{Kind: OpDelete, ID: "recent", TS: recent})
	s.Apply(createOp("live", recent))

	if n := s.Compact(now, 5*time.Minute); n != 1 {
		t.Fatalf("Compact removed %d, want 1", n)
	}
	// The fresh tombstone must still suppress a late stale edit.
	s.Apply(&Op{Kind: OpUpdate, ID: "recent", Patch: &FieldPatch{Content: strPtr("late")}, TS: recent - 10})
	if _, ok := s.Get("recent"); ok {
		t.Error("stale edit resurrected a retained tombstone")
	}
	if _, ok := s.Get("live"); !ok {
		t.Error("live annotation removed by compaction")
	}
}

func TestInvalidOpsRejected(t *testing.T) {
	s := NewStore()
	tests := []struct {
		name string
		op   *Op
	}{
		{"unknown kind", &Op{Kind: "upsert", ID: "a1"}},
		{"create without annotation", &Op{Kind: OpCreate}},
		{"create with bad shape", &Op{Kind: OpCreate, Annotation: &Annotation{ID: "a1", Kind: "scribble"}}},
		{"update without patch", &Op{Kind: OpUpdate, ID: "a1"}},
		{"delete without id", &Op{Kind: OpDelete}},
		{"reply without body", &Op{Kind: OpReply, ID: "a1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if s.Apply(tt.op) {
				t.Error("invalid op applied")
			}
		})
	}
}

func TestIDGenUniquePerAuthor(t *testing.T) {
	g := NewIDGen("alice")
	a, b := g.Next(), g.Next()
	if a == b {
		t.Errorf("consecutive ids collide: %q", a)
	}
}
