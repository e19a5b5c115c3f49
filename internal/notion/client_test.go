package notion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/decilog/decilog/internal/log"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := New("secret-token", log.NewNop(), WithBaseURL(server.URL))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client, server
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Errorf("encoding response: %v", err)
	}
}

func testPage(id string) Page {
	return Page{
		Object: "page",
		ID:     id,
		URL:    "https://www.notion.so/" + id,
		Properties: map[string]Property{
			"Name": {Type: "title", Title: []RichText{{Type: "text", PlainText: "Page " + id}}},
		},
	}
}

func TestNew_RequiresToken(t *testing.T) {
	if _, err := New("", log.NewNop()); err == nil {
		t.Error("expected error for empty token, got nil")
	}
}

func TestQueryDatabase_Pagination(t *testing.T) {
	var requests atomic.Int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if r.URL.Path != "/v1/databases/db-1/query" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret-token" {
			t.Errorf("Authorization = %q", got)
		}
		if got := r.Header.Get("Notion-Version"); got != APIVersion {
			t.Errorf("Notion-Version = %q, want %q", got, APIVersion)
		}

		var req DatabaseQueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decoding request: %v", err)
		}
		if req.PageSize != 100 {
			t.Errorf("page_size = %d, want 100", req.PageSize)
		}

		switch req.StartCursor {
		case "":
			writeJSON(t, w, DatabaseQueryResponse{
				Results:    []Page{testPage("a"), testPage("b")},
				HasMore:    true,
				NextCursor: "cursor-2",
			})
		case "cursor-2":
			writeJSON(t, w, DatabaseQueryResponse{
				Results: []Page{testPage("c")},
				HasMore: false,
			})
		default:
			t.Errorf("unexpected start_cursor %q", req.StartCursor)
		}
	}))

	pages, err := client.QueryDatabase(context.Background(), "db-1")
	if err != nil {
		t.Fatalf("QueryDatabase failed: %v", err)
	}
	if len(pages) != 3 {
		t.Fatalf("got %d pages, want 3", len(pages))
	}
	if pages[0].ID != "a" || pages[1].ID != "b" || pages[2].ID != "c" {
		t.Errorf("pages out of order: %s, %s, %s", pages[0].ID, pages[1].ID, pages[2].ID)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("made %d requests, want 2", got)
	}
}

func TestQueryDatabase_Empty(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, DatabaseQueryResponse{Results: nil, HasMore: false})
	}))

	pages, err := client.QueryDatabase(context.Background(), "db-1")
	if err != nil {
		t.Fatalf("QueryDatabase failed: %v", err)
	}
	if len(pages) != 0 {
		t.Errorf("got %d pages, want 0", len(pages))
	}
}

func TestQueryDatabase_StuckCursor(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req DatabaseQueryRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		// Always report more with the same cursor.
		writeJSON(t, w, DatabaseQueryResponse{
			Results:    []Page{testPage("a")},
			HasMore:    true,
			NextCursor: "stuck",
		})
	}))

	_, err := client.QueryDatabase(context.Background(), "db-1")
	if !errors.Is(err, ErrNoProgress) {
		t.Errorf("error = %v, want ErrNoProgress", err)
	}
	if !errors.Is(err, ErrFetch) {
		t.Errorf("error = %v, want it to wrap ErrFetch", err)
	}
}

func TestQueryDatabase_AuthErrorNotRetried(t *testing.T) {
	var requests atomic.Int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		http.Error(w, `{"object":"error","status":401}`, http.StatusUnauthorized)
	}))

	_, err := client.QueryDatabase(context.Background(), "db-1")
	if !errors.Is(err, ErrFetch) {
		t.Fatalf("error = %v, want ErrFetch", err)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("made %d requests for a 401, want 1 (no retry)", got)
	}
}

func TestQueryDatabase_ServerErrorRetried(t *testing.T) {
	var requests atomic.Int32

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "upstream hiccup", http.StatusBadGateway)
			return
		}
		writeJSON(t, w, DatabaseQueryResponse{Results: []Page{testPage("a")}})
	}))

	pages, err := client.QueryDatabase(context.Background(), "db-1")
	if err != nil {
		t.Fatalf("QueryDatabase failed: %v", err)
	}
	if len(pages) != 1 {
		t.Errorf("got %d pages, want 1", len(pages))
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("made %d requests, want 2 (one failure + one retry)", got)
	}
}

func TestGetBlockChildren_Pagination(t *testing.T) {
	block := func(id, text string) Block {
		return Block{
			Object:    "block",
			ID:        id,
			Type:      "paragraph",
			Paragraph: &TextBlock{RichText: []RichText{{Type: "text", PlainText: text}}},
		}
	}

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/v1/blocks/page-1/children" {
			t.Errorf("path = %s", r.URL.Path)
		}

		switch r.URL.Query().Get("start_cursor") {
		case "":
			writeJSON(t, w, BlockChildrenResponse{
				Results:    []Block{block("b1", "first"), block("b2", "second")},
				HasMore:    true,
				NextCursor: "c2",
			})
		case "c2":
			writeJSON(t, w, BlockChildrenResponse{
				Results: []Block{block("b3", "third")},
				HasMore: false,
			})
		default:
			t.Errorf("unexpected start_cursor %q", r.URL.Query().Get("start_cursor"))
		}
	}))

	blocks, err := client.GetBlockChildren(context.Background(), "page-1")
	if err != nil {
		t.Fatalf("GetBlockChildren failed: %v", err)
	}
	if len(blocks) != 3 {
		t.Fatalf("got %d blocks, want 3", len(blocks))
	}
	for i, want := range []string{"first", "second", "third"} {
		text, ok := blocks[i].FirstRun()
		if !ok || text != want {
			t.Errorf("block %d text = %q (ok=%v), want %q", i, text, ok, want)
		}
	}
}

func TestGetBlockChildren_StuckCursor(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, BlockChildrenResponse{
			Results:    []Block{},
			HasMore:    true,
			NextCursor: "",
		})
	}))

	_, err := client.GetBlockChildren(context.Background(), "page-1")
	if !errors.Is(err, ErrNoProgress) {
		t.Errorf("error = %v, want ErrNoProgress", err)
	}
}

func TestQueryDatabase_Canceled(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, DatabaseQueryResponse{})
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := client.QueryDatabase(ctx, "db-1"); err == nil {
		t.Error("expected error under canceled context, got nil")
	}
}

func ExampleClient_QueryDatabase() {
	client, err := New("ntn_example_token", nil)
	if err != nil {
		fmt.Println(err)
		return
	}
	pages, err := client.QueryDatabase(context.Background(), "d9824bdc-8445-4327-be8b-5b47500af6ce")
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, p := range pages {
		fmt.Println(p.Title())
	}
}
