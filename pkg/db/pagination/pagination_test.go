package pagination

import (
	"strconv"
	"testing"
)

func TestCursorRoundTrip(t *testing.T) {
	token, err := EncodeCursor(Cursor{ID: "123", CreatedAt: "2026-03-10"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	cursor, err := DecodeCursor(token)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cursor.ID != "123" || cursor.CreatedAt != "2026-03-10" {
		t.Fatalf("unexpected cursor: %+v", cursor)
	}
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	if _, err := DecodeCursor("not base64!!"); err == nil {
		t.Fatal("expected error for invalid base64")
	}
	if _, err := DecodeCursor("bm90LWpzb24"); err == nil {
		t.Fatal("expected error for non-JSON payload")
	}
}

func TestBuildCursorPageInfo(t *testing.T) {
	type row struct{ ID int }
	extract := func(r *row) string { return strconv.Itoa(r.ID) }

	rows := []*row{{1}, {2}, {3}}

	info := BuildCursorPageInfo(rows, 2, extract)
	if !info.HasMore {
		t.Fatal("expected more pages for limit+1 rows")
	}
	if info.NextPageToken != "2" {
		t.Fatalf("token should come from the last visible row, got %q", info.NextPageToken)
	}

	info = BuildCursorPageInfo(rows, 3, extract)
	if info.HasMore {
		t.Fatal("expected final page when rows fit the limit")
	}
	if info.NextPageToken != "3" {
		t.Fatalf("unexpected token: %q", info.NextPageToken)
	}

	info = BuildCursorPageInfo([]*row(nil), 3, extract)
	if info.HasMore || info.NextPageToken != "" {
		t.Fatalf("empty page should have no token: %+v", info)
	}
}
