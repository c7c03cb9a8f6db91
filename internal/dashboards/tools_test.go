package dashboards

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/navi/metabase-mcp/internal/metabase/metabasetest"
	"github.com/navi/metabase-mcp/internal/safety"
	"github.com/navi/metabase-mcp/internal/tools"
)

const salesDashboard = `{
	"id": 10,
	"name": "Sales",
	"description": "Weekly sales",
	"collection_id": 4,
	"parameters": [{"name": "Region", "type": "string/=", "slug": "region"}],
	"dashcards": [
		{"id": 100, "card_id": 42, "row": 0, "col": 0, "size_x": 8, "size_y": 6, "card": {"id": 42, "name": "Orders by region"}},
		{"id": 101, "card_id": null, "row": 6, "col": 0, "size_x": 18, "size_y": 2, "card": null},
		{"id": 102, "card_id": 43, "row": 0, "col": 8, "card": {"id": 43, "name": "Order count"}}
	]
}`

func newTools(t *testing.T, srv *metabasetest.Server, confirm *safety.ConfirmationTracker) ([]tools.Registration, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return DashboardTools(NewManager(srv.Client(t)), confirm, safety.NewAuditLogger(&buf)), &buf
}

func assertContains(t *testing.T, text string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(text, w) {
			t.Errorf("output missing %q\n%s", w, text)
		}
	}
}

func putDashcards(t *testing.T, srv *metabasetest.Server, path string) []map[string]any {
	t.Helper()
	calls := srv.Calls(http.MethodPut, path)
	if len(calls) != 1 {
		t.Fatalf("got %d PUT calls, want 1", len(calls))
	}
	var body struct {
		Dashcards []map[string]any `json:"dashcards"`
	}
	if err := json.Unmarshal(calls[0].Body, &body); err != nil {
		t.Fatalf("decode PUT body: %v", err)
	}
	return body.Dashcards
}

// ---------------------------------------------------------------------------
// Registration
// ---------------------------------------------------------------------------

func Test_DashboardTools_Names(t *testing.T) {
	got := strings.Join(metabasetest.ToolNames(DashboardTools(nil, nil, nil)), ",")
	want := "list_dashboards,get_dashboard,get_dashboard_cards,search_dashboards,create_dashboard," +
		"add_card_to_dashboard,remove_card_from_dashboard,delete_dashboard"
	if got != want {
		t.Errorf("tool names = %s, want %s", got, want)
	}
}

// ---------------------------------------------------------------------------
// Read tools
// ---------------------------------------------------------------------------

func Test_ListDashboards_Cases(t *testing.T) {
	const payload = `[
		{"id":1,"name":"Sales","collection_id":4,"description":"Weekly sales across every region we operate in"},
		{"id":2,"name":"Ops"},
		{"id":3,"name":"Finance","collection_id":4}
	]`

	tests := []struct {
		name    string
		args    map[string]any
		want    []string
		notWant []string
	}{
		{
			name: "all",
			want: []string{
				"### 📊 Dashboards (3 found)",
				"| 1 | Sales | 4 | Weekly sales across every regi |",
				"| 2 | Ops | Root |  |",
			},
		},
		{
			name:    "by collection with limit",
			args:    map[string]any{"collection_id": float64(4), "limit": float64(1)},
			want:    []string{"(1 found)", "| 1 | Sales |"},
			notWant: []string{"Finance", "Ops"},
		},
		{
			name: "empty collection",
			args: map[string]any{"collection_id": float64(9)},
			want: []string{"No dashboards found."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := metabasetest.NewServer(t)
			srv.JSON(http.MethodGet, "/api/dashboard", http.StatusOK, payload)
			regs, _ := newTools(t, srv, nil)

			text := metabasetest.CallText(t, regs, "list_dashboards", tt.args)
			assertContains(t, text, tt.want...)
			for _, w := range tt.notWant {
				if strings.Contains(text, w) {
					t.Errorf("output should not contain %q\n%s", w, text)
				}
			}
		})
	}
}

func Test_GetDashboard_Output(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/dashboard/10", http.StatusOK, salesDashboard)
	regs, _ := newTools(t, srv, nil)

	text := metabasetest.CallText(t, regs, "get_dashboard", map[string]any{"dashboard_id": float64(10)})
	assertContains(t, text,
		"## 📊 Dashboard: Sales",
		"**Description:** Weekly sales",
		"**Collection ID:** 4",
		"**Cards Count:** 2",
		"- **Region** (string/=): region",
		"| 100 | 42 | Orders by region | (0, 0) |",
		"| 102 | 43 | Order count | (8, 0) |",
	)
	if strings.Contains(text, "| 101 |") {
		t.Errorf("text cards should be skipped\n%s", text)
	}
}

func Test_GetDashboard_Error(t *testing.T) {
	srv := metabasetest.NewServer(t)
	regs, _ := newTools(t, srv, nil)

	text := metabasetest.CallText(t, regs, "get_dashboard", map[string]any{"dashboard_id": float64(5)})
	if !strings.HasPrefix(text, "❌ Error getting dashboard 5: ") {
		t.Errorf("unexpected text %q", text)
	}
}

func Test_GetDashboardCards_Cases(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "with cards",
			body: salesDashboard,
			want: []string{
				"### 🃏 Cards in Dashboard: Sales",
				"**Total Cards:** 2",
				"| 42 | Orders by region | 8x6 | row:0, col:0 |",
				"| 43 | Order count | 4x4 | row:0, col:8 |",
				"**Tip:** Use `execute_card(card_id)`",
			},
		},
		{
			name: "legacy ordered_cards",
			body: `{"id":10,"name":"Old","ordered_cards":[{"id":1,"card":{"id":7,"name":"Legacy"}}]}`,
			want: []string{"| 7 | Legacy | 4x4 | row:0, col:0 |"},
		},
		{
			name: "no cards",
			body: `{"id":10,"name":"Empty","dashcards":[{"id":1,"card":null}]}`,
			want: []string{"Dashboard 10 (Empty) has no cards."},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := metabasetest.NewServer(t)
			srv.JSON(http.MethodGet, "/api/dashboard/10", http.StatusOK, tt.body)
			regs, _ := newTools(t, srv, nil)

			text := metabasetest.CallText(t, regs, "get_dashboard_cards", map[string]any{"dashboard_id": float64(10)})
			assertContains(t, text, tt.want...)
		})
	}
}

func Test_SearchDashboards_Cases(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []string
	}{
		{
			name: "results",
			body: `{"data":[{"id":10,"model":"dashboard","name":"Sales","description":"Weekly","collection":{"id":4,"name":"Reports"}},{"id":11,"model":"dashboard","name":"Loose"}]}`,
			want: []string{
				"### 🔍 Search Results for 'sal'",
				"| 10 | Sales | Reports | Weekly |",
				"| 11 | Loose | Root |  |",
			},
		},
		{
			name: "none",
			body: `[]`,
			want: []string{"No dashboards found matching 'sal'"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := metabasetest.NewServer(t)
			srv.JSON(http.MethodGet, "/api/search", http.StatusOK, tt.body)
			regs, _ := newTools(t, srv, nil)

			text := metabasetest.CallText(t, regs, "search_dashboards", map[string]any{"query": "sal", "limit": float64(5)})
			assertContains(t, text, tt.want...)
			if q := srv.Calls(http.MethodGet, "/api/search")[0].Query; q != "limit=5&models=dashboard&q=sal" {
				t.Errorf("query = %q", q)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Mutating tools
// ---------------------------------------------------------------------------

func Test_CreateDashboard_Output(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodPost, "/api/dashboard", http.StatusOK, `{"id":20,"name":"New"}`)
	regs, _ := newTools(t, srv, nil)

	text := metabasetest.CallText(t, regs, "create_dashboard", map[string]any{"name": "New"})
	assertContains(t, text,
		"### ✅ Dashboard Created",
		"**ID:** 20",
		"**Collection ID:** Root",
		"**URL:** "+srv.URL+"/dashboard/20",
		"add_card_to_dashboard",
	)

	var body map[string]any
	_ = json.Unmarshal(srv.Calls(http.MethodPost, "/api/dashboard")[0].Body, &body)
	if len(body) != 1 || body["name"] != "New" {
		t.Errorf("unexpected payload %v", body)
	}
}

func Test_AddCardToDashboard_AppendsNewDashcard(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/card/42", http.StatusOK, `{"id":42,"name":"Orders by region"}`)
	srv.JSON(http.MethodGet, "/api/dashboard/10", http.StatusOK, salesDashboard)
	srv.JSON(http.MethodPut, "/api/dashboard/10", http.StatusOK, `{"id":10,"name":"Sales","dashcards":[
		{"id":100,"card_id":42,"card":{"id":42,"name":"Orders by region"}},
		{"id":101,"card":null},
		{"id":102,"card_id":43,"card":{"id":43,"name":"Order count"}},
		{"id":103,"card_id":42,"card":{"id":42,"name":"Orders by region"}}
	]}`)
	regs, _ := newTools(t, srv, nil)

	text := metabasetest.CallText(t, regs, "add_card_to_dashboard", map[string]any{
		"dashboard_id": float64(10),
		"card_id":      float64(42),
		"row":          float64(8),
	})
	assertContains(t, text,
		"### ✅ Card Added to Dashboard",
		"**Card Name:** Orders by region",
		"**Position:** Row 8, Col 0",
		"**Size:** 8 x 6",
		"**DashCard ID:** 103",
	)

	list := putDashcards(t, srv, "/api/dashboard/10")
	if len(list) != 4 {
		t.Fatalf("PUT sent %d dashcards, want 4", len(list))
	}
	last := list[3]
	if last["id"] != float64(-1) || last["card_id"] != float64(42) || last["row"] != float64(8) || last["size_x"] != float64(8) {
		t.Errorf("unexpected new dashcard %v", last)
	}
	if list[0]["id"] != float64(100) {
		t.Errorf("existing dashcards should be sent unchanged, got %v", list[0])
	}
}

func Test_AddCardToDashboard_NotFound(t *testing.T) {
	srv := metabasetest.NewServer(t)
	regs, _ := newTools(t, srv, nil)

	text := metabasetest.CallText(t, regs, "add_card_to_dashboard", map[string]any{"dashboard_id": float64(10), "card_id": float64(99)})
	if text != "❌ Dashboard 10 or Card 99 not found" {
		t.Errorf("text = %q", text)
	}
}

func Test_RemoveCardFromDashboard_ConfirmationFlow(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/dashboard/10", http.StatusOK, salesDashboard)
	srv.JSON(http.MethodPut, "/api/dashboard/10", http.StatusOK, `{"id":10,"name":"Sales"}`)
	regs, _ := newTools(t, srv, safety.NewConfirmationTracker(DestructiveTools))

	args := map[string]any{"dashboard_id": float64(10), "dashcard_id": float64(100)}
	prompt := metabasetest.CallText(t, regs, "remove_card_from_dashboard", args)
	assertContains(t, prompt, "Confirmation required for remove_card_from_dashboard on dashcard 100 on dashboard 10", `"Orders by region"`)
	if n := len(srv.Calls(http.MethodPut, "/api/dashboard/10")); n != 0 {
		t.Fatalf("PUT issued before confirmation (%d calls)", n)
	}

	args["confirmation_token"] = metabasetest.ConfirmationToken(t, prompt)
	text := metabasetest.CallText(t, regs, "remove_card_from_dashboard", args)
	assertContains(t, text, "### ✅ Card Removed from Dashboard", "**DashCard ID:** 100", "still exists")

	list := putDashcards(t, srv, "/api/dashboard/10")
	if len(list) != 2 || list[0]["id"] != float64(101) || list[1]["id"] != float64(102) {
		t.Errorf("unexpected dashcards after removal %v", list)
	}
}

func Test_RemoveCardFromDashboard_UnknownDashcard(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/dashboard/10", http.StatusOK, salesDashboard)
	regs, _ := newTools(t, srv, safety.NewConfirmationTracker(DestructiveTools))

	text := metabasetest.CallText(t, regs, "remove_card_from_dashboard", map[string]any{"dashboard_id": float64(10), "dashcard_id": float64(555)})
	if text != "❌ DashCard 555 not found in dashboard 10" {
		t.Errorf("text = %q", text)
	}
}

func Test_RemoveCardFromDashboard_TextCardWithoutConfirmation(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/dashboard/10", http.StatusOK, salesDashboard)
	srv.JSON(http.MethodPut, "/api/dashboard/10", http.StatusOK, `{"id":10,"name":"Sales"}`)
	regs, _ := newTools(t, srv, nil)

	text := metabasetest.CallText(t, regs, "remove_card_from_dashboard", map[string]any{"dashboard_id": float64(10), "dashcard_id": float64(101)})
	assertContains(t, text, "Card Removed from Dashboard")
	if list := putDashcards(t, srv, "/api/dashboard/10"); len(list) != 2 {
		t.Errorf("PUT sent %d dashcards, want 2", len(list))
	}
}

func Test_DeleteDashboard_Cases(t *testing.T) {
	tests := []struct {
		name       string
		route      bool
		confirm    bool
		want       string
		wantDelete int
	}{
		{name: "prompts first", route: true, confirm: true, want: "Confirmation required for delete_dashboard on dashboard 10"},
		{name: "confirmation disabled", route: true, want: "### ✅ Dashboard Deleted", wantDelete: 1},
		{name: "not found", confirm: true, want: "❌ Dashboard 10 not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := metabasetest.NewServer(t)
			if tt.route {
				srv.JSON(http.MethodGet, "/api/dashboard/10", http.StatusOK, salesDashboard)
				srv.JSON(http.MethodDelete, "/api/dashboard/10", http.StatusNoContent, ``)
			}
			var confirm *safety.ConfirmationTracker
			if tt.confirm {
				confirm = safety.NewConfirmationTracker(DestructiveTools)
			}
			regs, _ := newTools(t, srv, confirm)

			text := metabasetest.CallText(t, regs, "delete_dashboard", map[string]any{"dashboard_id": float64(10)})
			assertContains(t, text, tt.want)
			if n := len(srv.Calls(http.MethodDelete, "/api/dashboard/10")); n != tt.wantDelete {
				t.Errorf("got %d DELETE calls, want %d", n, tt.wantDelete)
			}
		})
	}
}

func Test_DeleteDashboard_ConfirmedDeletes(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/dashboard/10", http.StatusOK, salesDashboard)
	srv.JSON(http.MethodDelete, "/api/dashboard/10", http.StatusNoContent, ``)
	regs, _ := newTools(t, srv, safety.NewConfirmationTracker(DestructiveTools))

	token := metabasetest.ConfirmationToken(t, metabasetest.CallText(t, regs, "delete_dashboard", map[string]any{"dashboard_id": float64(10)}))
	text := metabasetest.CallText(t, regs, "delete_dashboard", map[string]any{"dashboard_id": float64(10), "confirmation_token": token})
	assertContains(t, text, "**Name:** Sales", "cannot be undone")
}
