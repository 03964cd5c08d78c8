package pagination

import "testing"

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "123"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	cursor, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.ID != "123" {
		t.Fatalf("expected id 123, got %q", cursor.ID)
	}
	if _, err := DecodeCursor("%%%"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestBuildCursorPageInfo(t *testing.T) {
	ids := []int{1, 2, 3}
	rows := make([]*int, 0, len(ids))
	for i := range ids {
		rows = append(rows, &ids[i])
	}
	extract := func(v *int) string { return string(rune('0' + *v)) }

	page, info := BuildCursorPageInfo(rows, 2, extract)
	if len(page) != 2 || !info.HasMore || info.NextPageToken != "2" {
		t.Fatalf("unexpected page %v info %+v", len(page), info)
	}

	page, info = BuildCursorPageInfo(rows, 5, extract)
	if len(page) != 3 || info.HasMore || info.NextPageToken != "" {
		t.Fatalf("unexpected last page %v info %+v", len(page), info)
	}
}

func TestSizeClamps(t *testing.T) {
	if (Pagination{}).Size() != DefaultPageSize {
		t.Fatalf("expected default page size")
	}
	if (Pagination{PageSize: 1000}).Size() != MaxPageSize {
		t.Fatalf("expected max page size")
	}
	if (Pagination{PageSize: 3}).Size() != 3 {
		t.Fatalf("expected page size 3")
	}
}
