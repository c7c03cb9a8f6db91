package images

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/navi/metabase-mcp/internal/metabase/metabasetest"
	"github.com/navi/metabase-mcp/internal/safety"
	"github.com/navi/metabase-mcp/internal/tools"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake-chart-data")

func newTools(t *testing.T, srv *metabasetest.Server, outputDir string) ([]tools.Registration, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return ImageTools(NewManager(srv.Client(t)), outputDir, safety.NewAuditLogger(&buf)), &buf
}

// preview serves a pulse preview page embedding img next to a small icon.
func preview(srv *metabasetest.Server, cardID string, img []byte) {
	srv.Handle(http.MethodGet, "/api/pulse/preview_card/"+cardID, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><img src="data:image/png;base64,AAAA"><img src="data:image/png;base64,` +
			base64.StdEncoding.EncodeToString(img) + `"></html>`))
	})
}

func assertContains(t *testing.T, text string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(text, w) {
			t.Errorf("output missing %q\n%s", w, text)
		}
	}
}

func Test_ImageTools_Names(t *testing.T) {
	got := strings.Join(metabasetest.ToolNames(ImageTools(nil, "output", nil)), ",")
	want := "get_card_image,download_card_image,get_dashboard_cards_as_images,download_all_dashboard_cards"
	if got != want {
		t.Errorf("tool names = %s, want %s", got, want)
	}
}

func Test_GetCardImage(t *testing.T) {
	srv := metabasetest.NewServer(t)
	preview(srv, "5", pngBytes)
	regs, _ := newTools(t, srv, t.TempDir())

	result := metabasetest.CallTool(t, regs, "get_card_image", map[string]any{"card_id": float64(5)})
	assertContains(t, metabasetest.Text(t, result), "### 🖼️ Card 5 Image", "**Format:** PNG", "(23 bytes)")

	if len(result.Content) != 2 {
		t.Fatalf("got %d content entries, want 2", len(result.Content))
	}
	img, ok := mcp.AsImageContent(result.Content[1])
	if !ok {
		t.Fatalf("second content entry is %T, want ImageContent", result.Content[1])
	}
	if img.MIMEType != "image/png" {
		t.Errorf("mime type = %s", img.MIMEType)
	}
	if img.Data != base64.StdEncoding.EncodeToString(pngBytes) {
		t.Errorf("image data is not the largest embedded PNG")
	}
}

func Test_GetCardImage_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   string
	}{
		{"not exportable", http.StatusBadRequest, "❌ Card 5 cannot be exported as image."},
		{"missing", http.StatusNotFound, "❌ Card 5 not found"},
		{"server error", http.StatusInternalServerError, "❌ Error getting card image:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := metabasetest.NewServer(t)
			srv.JSON(http.MethodGet, "/api/pulse/preview_card/5", tt.status, `{"message":"nope"}`)
			regs, audit := newTools(t, srv, t.TempDir())

			text := metabasetest.CallText(t, regs, "get_card_image", map[string]any{"card_id": float64(5)})
			if !strings.HasPrefix(text, tt.want) {
				t.Errorf("text = %q, want prefix %q", text, tt.want)
			}
			if !strings.Contains(audit.String(), `"tool":"get_card_image"`) {
				t.Errorf("audit log missing entry: %s", audit.String())
			}
		})
	}
}

func Test_DownloadCardImage_Cases(t *testing.T) {
	tests := []struct {
		name     string
		cardJSON string
		filename string
		wantFile string
	}{
		{"card name", `{"id":5,"name":"Revenue / Month?"}`, "", "Revenue  Month.png"},
		{"custom filename", `{"id":5,"name":"Revenue"}`, "q3 report", "q3 report.png"},
		{"unusable name", `{"id":5,"name":"///"}`, "", "card_5.png"},
		{"unicode name", `{"id":5,"name":"Ventes été"}`, "", "Ventes été.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := metabasetest.NewServer(t)
			srv.JSON(http.MethodGet, "/api/card/5", http.StatusOK, tt.cardJSON)
			preview(srv, "5", pngBytes)
			dir := filepath.Join(t.TempDir(), "nested")
			regs, _ := newTools(t, srv, "unused")

			args := map[string]any{"card_id": float64(5), "output_dir": dir}
			if tt.filename != "" {
				args["filename"] = tt.filename
			}
			text := metabasetest.CallText(t, regs, "download_card_image", args)

			path := filepath.Join(dir, tt.wantFile)
			assertContains(t, text, "### ✅ Card Image Downloaded", "**Card ID:** 5", "**File:** "+path)
			got, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read saved image: %v", err)
			}
			if !bytes.Equal(got, pngBytes) {
				t.Errorf("saved image differs from preview")
			}
		})
	}
}

func Test_DownloadCardImage_DefaultDir(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/card/5", http.StatusOK, `{"id":5,"name":"Sales"}`)
	preview(srv, "5", pngBytes)
	dir := t.TempDir()
	regs, _ := newTools(t, srv, dir)

	metabasetest.CallText(t, regs, "download_card_image", map[string]any{"card_id": float64(5)})
	if _, err := os.Stat(filepath.Join(dir, "Sales.png")); err != nil {
		t.Errorf("image not saved in configured directory: %v", err)
	}
}

func Test_DownloadCardImage_CardNotFound(t *testing.T) {
	srv := metabasetest.NewServer(t)
	regs, _ := newTools(t, srv, t.TempDir())

	text := metabasetest.CallText(t, regs, "download_card_image", map[string]any{"card_id": float64(8)})
	if text != "❌ Card 8 not found" {
		t.Errorf("text = %q", text)
	}
}

const dashboardJSON = `{"id":3,"name":"Ops: Daily","dashcards":[
	{"id":1,"card_id":5,"card":{"id":5,"name":"Revenue"}},
	{"id":2,"card":null},
	{"id":3,"card_id":6,"card":{"id":6,"name":"Model"}}
]}`

func Test_GetDashboardCardsAsImages(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/dashboard/3", http.StatusOK, dashboardJSON)
	preview(srv, "5", pngBytes)
	srv.JSON(http.MethodGet, "/api/pulse/preview_card/6", http.StatusBadRequest, `{"message":"model"}`)
	regs, _ := newTools(t, srv, t.TempDir())

	text := metabasetest.CallText(t, regs, "get_dashboard_cards_as_images", map[string]any{"dashboard_id": float64(3)})
	assertContains(t, text,
		"### 📊 Dashboard: Ops: Daily",
		"**Total Cards:** 3",
		"| Card ID | Card Name | Can Export | Size |",
		"| 5 | Revenue | ✅ Yes | 23 B |",
		"| - | Text/Layout | ❌ No | - |",
		"| 6 | Model | ❌ No | - |",
		"**Exportable Cards:** 1/3",
	)
}

func Test_GetDashboardCardsAsImages_Edges(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"empty", http.StatusOK, `{"id":3,"name":"Empty","dashcards":[]}`, "No cards found in dashboard 3"},
		{"missing", http.StatusNotFound, `"Not found."`, "❌ Dashboard 3 not found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := metabasetest.NewServer(t)
			srv.JSON(http.MethodGet, "/api/dashboard/3", tt.status, tt.body)
			regs, _ := newTools(t, srv, t.TempDir())

			text := metabasetest.CallText(t, regs, "get_dashboard_cards_as_images", map[string]any{"dashboard_id": float64(3)})
			if text != tt.want {
				t.Errorf("text = %q, want %q", text, tt.want)
			}
		})
	}
}

func Test_DownloadAllDashboardCards(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/dashboard/3", http.StatusOK, dashboardJSON)
	preview(srv, "5", pngBytes)
	srv.JSON(http.MethodGet, "/api/pulse/preview_card/6", http.StatusBadRequest, `{"message":"model"}`)
	root := t.TempDir()
	regs, audit := newTools(t, srv, root)

	text := metabasetest.CallText(t, regs, "download_all_dashboard_cards", map[string]any{"dashboard_id": float64(3)})

	dir := filepath.Join(root, "Ops Daily")
	assertContains(t, text,
		"### 📥 Downloading Dashboard: Ops: Daily",
		"**Output Directory:** "+dir,
		"#### ✅ Downloaded Cards:\n- Card 5: Revenue",
		"#### ❌ Failed Cards:\n- Card 6: Model - ",
		"**Summary:** 1 downloaded, 1 failed",
	)
	if _, err := os.Stat(filepath.Join(dir, "Revenue.png")); err != nil {
		t.Errorf("card image not saved: %v", err)
	}
	if !strings.Contains(audit.String(), "1 downloaded, 1 failed") {
		t.Errorf("audit log missing summary: %s", audit.String())
	}
}

func Test_DownloadAllDashboardCards_FallbackDir(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/dashboard/4", http.StatusOK, `{"id":4,"name":"???","dashcards":[{"id":1,"card":{"id":5,"name":"Revenue"}}]}`)
	preview(srv, "5", pngBytes)
	root := t.TempDir()
	regs, _ := newTools(t, srv, "unused")

	text := metabasetest.CallText(t, regs, "download_all_dashboard_cards", map[string]any{"dashboard_id": float64(4), "output_dir": root})
	assertContains(t, text, "**Summary:** 1 downloaded, 0 failed")
	if _, err := os.Stat(filepath.Join(root, "dashboard_4", "Revenue.png")); err != nil {
		t.Errorf("card image not saved in fallback directory: %v", err)
	}
}

func Test_DownloadAllDashboardCards_DotNameStaysInOutputDir(t *testing.T) {
	for _, name := range []string{"..", "/../", "."} {
		t.Run(name, func(t *testing.T) {
			srv := metabasetest.NewServer(t)
			srv.JSON(http.MethodGet, "/api/dashboard/9", http.StatusOK,
				`{"id":9,"name":"`+name+`","dashcards":[{"id":1,"card":{"id":5,"name":"Revenue"}}]}`)
			preview(srv, "5", pngBytes)
			root := filepath.Join(t.TempDir(), "out")
			regs, _ := newTools(t, srv, root)

			text := metabasetest.CallText(t, regs, "download_all_dashboard_cards", map[string]any{"dashboard_id": float64(9)})
			want := filepath.Join(root, "dashboard_9")
			assertContains(t, text, "**Output Directory:** "+want)
			if _, err := os.Stat(filepath.Join(want, "Revenue.png")); err != nil {
				t.Errorf("card image not saved inside the output directory: %v", err)
			}
		})
	}
}

func Test_DownloadCardImage_DotFilename(t *testing.T) {
	srv := metabasetest.NewServer(t)
	srv.JSON(http.MethodGet, "/api/card/5", http.StatusOK, `{"id":5,"name":"Revenue"}`)
	preview(srv, "5", pngBytes)
	dir := t.TempDir()
	regs, _ := newTools(t, srv, dir)

	metabasetest.CallText(t, regs, "download_card_image", map[string]any{"card_id": float64(5), "filename": ".."})
	if _, err := os.Stat(filepath.Join(dir, "card_5.png")); err != nil {
		t.Errorf("expected fallback file name: %v", err)
	}
}

func Test_SafeName_Cases(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Sales Report", "Sales Report"},
		{"a/b\\c:d", "abcd"},
		{"  v1.2_final-draft  ", "v1.2_final-draft"},
		{"../../etc/passwd", "....etcpasswd"},
		{"日本語", "日本語"},
		{"***", ""},
		{"..", ""},
		{" . ", ""},
		{"...", ""},
		{"..a", "..a"},
	}

	for _, tt := range tests {
		if got := SafeName(tt.in); got != tt.want {
			t.Errorf("SafeName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
