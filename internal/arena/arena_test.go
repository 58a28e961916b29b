package arena

import "testing"

func TestAllocBytesAlignment(t *testing.T) {
	a := New()
	for _, align := range []int{1, 2, 4, 8, 16} {
		b, err := a.AllocBytes(7, align)
		if err != nil {
			t.Fatalf("alloc align=%d: %v", align, err)
		}
		if len(b) != 7 {
			t.Fatalf("expected len 7, got %d", len(b))
		}
	}
}

func TestAllocBytesGrowsAcrossPages(t *testing.T) {
	a := New()
	total := 0
	for i := 0; i < 1000; i++ {
		b, err := a.AllocBytes(64, 8)
		if err != nil {
			t.Fatalf("alloc %d: %v", i, err)
		}
		total += len(b)
	}
	if total != 1000*64 {
		t.Fatalf("total allocated = %d, want %d", total, 1000*64)
	}
}

func TestAllocBytesRejectsOversized(t *testing.T) {
	a := New()
	if _, err := a.AllocBytes(maxAllocSize+1, 8); err == nil {
		t.Fatal("expected error for oversized allocation")
	}
}

func TestAllocBytesRejectsBadAlignment(t *testing.T) {
	a := New()
	if _, err := a.AllocBytes(8, 3); err == nil {
		t.Fatal("expected error for non-power-of-two alignment")
	}
}

func TestReallocGrowsInPlaceWhenLast(t *testing.T) {
	a := New()
	b, err := a.AllocBytes(8, 8)
	if err != nil {
		t.Fatal(err)
	}
	copy(b, []byte("abcdefgh"))
	grown, err := a.ReallocBytes(b, 16, 8, 8)
	if err != nil {
		t.Fatal(err)
	}
	if string(grown[:8]) != "abcdefgh" {
		t.Fatalf("data not preserved: %q", grown[:8])
	}
}

func TestResetReusesPages(t *testing.T) {
	a := New()
	for i := 0; i < 100; i++ {
		if _, err := a.AllocBytes(64, 8); err != nil {
			t.Fatal(err)
		}
	}
	pagesBefore := len(a.pages)
	a.Reset()
	for i := 0; i < 100; i++ {
		if _, err := a.AllocBytes(64, 8); err != nil {
			t.Fatal(err)
		}
	}
	if len(a.pages) > pagesBefore {
		t.Fatalf("expected page reuse, pages grew from %d to %d", pagesBefore, len(a.pages))
	}
}
