package images

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/navi/metabase-mcp/internal/metabase"
	"github.com/navi/metabase-mcp/internal/safety"
	"github.com/navi/metabase-mcp/internal/tools"
)

const pngMIME = "image/png"

// ImageTools returns the registrations for every image tool. Files are
// written below outputDir unless a call names its own directory.
func ImageTools(mgr ImageManager, outputDir string, audit *safety.AuditLogger) []tools.Registration {
	return []tools.Registration{
		toolGetCardImage(mgr, audit),
		toolDownloadCardImage(mgr, outputDir, audit),
		toolGetDashboardCardsAsImages(mgr, audit),
		toolDownloadAllDashboardCards(mgr, outputDir, audit),
	}
}

func size(n int) string {
	return fmt.Sprintf("%s (%d bytes)", humanize.Bytes(uint64(n)), n)
}

// imageError maps the preview endpoint's failures to the messages users see.
func imageError(err error, cardID int, prefix string) *mcp.CallToolResult {
	switch metabase.StatusCode(err) {
	case http.StatusBadRequest:
		return tools.Errorf("Card %d cannot be exported as image. It may be a model or have no visualization.", cardID)
	case http.StatusNotFound:
		return tools.Errorf("Card %d not found", cardID)
	}
	return tools.Errorf("%s: %v", prefix, err)
}

func toolGetCardImage(mgr ImageManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "get_card_image"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Render a card (saved question) as a PNG image."),
		mcp.WithNumber("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card to render"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "card_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"card_id": id}

		img, err := mgr.CardImage(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return imageError(err, id, "Error getting card image"), nil
		}
		if len(img) == 0 {
			tools.LogAudit(audit, toolName, params, safety.OutcomeError+": empty image", start)
			return tools.Errorf("No image data returned for card %d", id), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		summary := fmt.Sprintf(
			"### 🖼️ Card %d Image\n\n**Format:** PNG\n**Size:** %s\n\n*Image attached. Use download_card_image to save it to disk.*",
			id, size(len(img)),
		)
		return mcp.NewToolResultImage(summary, base64.StdEncoding.EncodeToString(img), pngMIME), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolDownloadCardImage(mgr ImageManager, outputDir string, audit *safety.AuditLogger) tools.Registration {
	const toolName = "download_card_image"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Render a card as PNG and save it to disk."),
		mcp.WithNumber("card_id",
			mcp.Required(),
			mcp.Description("The ID of the card to download"),
		),
		mcp.WithString("output_dir",
			mcp.Description(fmt.Sprintf("Directory to save the image in (default: %s)", outputDir)),
		),
		mcp.WithString("filename",
			mcp.Description("Custom file name without extension (default: the card name)"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "card_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		dir := req.GetString("output_dir", "")
		if dir == "" {
			dir = outputDir
		}
		filename := req.GetString("filename", "")
		params := map[string]any{"card_id": id, "output_dir": dir, "filename": filename}

		name, err := mgr.CardName(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return imageError(err, id, "Error downloading card image"), nil
		}
		img, err := mgr.CardImage(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return imageError(err, id, "Error downloading card image"), nil
		}
		if len(img) == 0 {
			tools.LogAudit(audit, toolName, params, safety.OutcomeError+": empty image", start)
			return tools.Errorf("No image data returned for card %d", id), nil
		}

		base := filename
		if base == "" {
			base = name
		}
		safe := SafeName(base)
		if safe == "" {
			safe = fmt.Sprintf("card_%d", id)
		}
		path, err := WritePNG(dir, safe, img)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			return tools.Errorf("Error downloading card image: %v", err), nil
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		return mcp.NewToolResultText(fmt.Sprintf(
			"### ✅ Card Image Downloaded\n\n**Card ID:** %d\n**Card Name:** %s\n**File:** %s\n**Size:** %s\n",
			id, name, path, size(len(img)),
		)), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolGetDashboardCardsAsImages(mgr ImageManager, audit *safety.AuditLogger) tools.Registration {
	const toolName = "get_dashboard_cards_as_images"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Check which cards of a dashboard can be exported as images, rendering each one."),
		mcp.WithNumber("dashboard_id",
			mcp.Required(),
			mcp.Description("The ID of the dashboard"),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "dashboard_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		params := map[string]any{"dashboard_id": id}

		name, refs, err := mgr.DashboardCards(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			if metabase.StatusCode(err) == http.StatusNotFound {
				return tools.Errorf("Dashboard %d not found", id), nil
			}
			return tools.Errorf("Error getting dashboard images: %v", err), nil
		}
		if len(refs) == 0 {
			tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)
			return mcp.NewToolResultText(fmt.Sprintf("No cards found in dashboard %d", id)), nil
		}

		lines := []string{
			fmt.Sprintf("### 📊 Dashboard: %s\n", name),
			fmt.Sprintf("**Dashboard ID:** %d", id),
			fmt.Sprintf("**Total Cards:** %d\n", len(refs)),
			"| Card ID | Card Name | Can Export | Size |",
			"| --- | --- | --- | --- |",
		}
		exportable := 0
		for _, ref := range refs {
			if ref.CardID == 0 {
				lines = append(lines, "| - | Text/Layout | ❌ No | - |")
				continue
			}
			cardName := ref.CardName
			if cardName == "" {
				cardName = "Unnamed"
			}
			img, err := mgr.CardImage(ctx, ref.CardID)
			if err != nil {
				lines = append(lines, fmt.Sprintf("| %d | %s | ❌ No | - |", ref.CardID, tools.Clip(cardName, 40)))
				continue
			}
			exportable++
			lines = append(lines, fmt.Sprintf("| %d | %s | ✅ Yes | %s |", ref.CardID, tools.Clip(cardName, 40), humanize.Bytes(uint64(len(img)))))
		}
		tools.LogAudit(audit, toolName, params, safety.OutcomeOK, start)

		lines = append(lines,
			fmt.Sprintf("\n**Exportable Cards:** %d/%d", exportable, len(refs)),
			"\n*Use `download_card_image(card_id)` to save individual cards.*",
		)
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}

func toolDownloadAllDashboardCards(mgr ImageManager, outputDir string, audit *safety.AuditLogger) tools.Registration {
	const toolName = "download_all_dashboard_cards"

	tool := mcp.NewTool(toolName,
		mcp.WithDescription("Save every exportable card of a dashboard as PNG, in a directory named after the dashboard."),
		mcp.WithNumber("dashboard_id",
			mcp.Required(),
			mcp.Description("The ID of the dashboard"),
		),
		mcp.WithString("output_dir",
			mcp.Description(fmt.Sprintf("Directory to save images in (default: %s)", outputDir)),
		),
	)

	handler := func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		start := time.Now()
		id, err := tools.RequiredInt(req, "dashboard_id")
		if err != nil {
			return tools.ErrorResult(err.Error()), nil
		}
		root := req.GetString("output_dir", "")
		if root == "" {
			root = outputDir
		}
		params := map[string]any{"dashboard_id": id, "output_dir": root}

		name, refs, err := mgr.DashboardCards(ctx, id)
		if err != nil {
			tools.LogAudit(audit, toolName, params, tools.Outcome(err), start)
			if metabase.StatusCode(err) == http.StatusNotFound {
				return tools.Errorf("Dashboard %d not found", id), nil
			}
			return tools.Errorf("Error downloading dashboard images: %v", err), nil
		}

		sub := SafeName(name)
		if sub == "" {
			sub = fmt.Sprintf("dashboard_%d", id)
		}
		dir := filepath.Join(root, sub)

		var downloaded, failed []string
		for _, ref := range refs {
			if ref.CardID == 0 {
				continue
			}
			cardName := ref.CardName
			if cardName == "" {
				cardName = fmt.Sprintf("card_%d", ref.CardID)
			}

			img, err := mgr.CardImage(ctx, ref.CardID)
			if err == nil {
				file := SafeName(cardName)
				if file == "" {
					file = fmt.Sprintf("card_%d", ref.CardID)
				}
				_, err = WritePNG(dir, file, img)
			}
			if err != nil {
				failed = append(failed, fmt.Sprintf("- Card %d: %s - %s", ref.CardID, cardName, tools.Clip(err.Error(), 50)))
				continue
			}
			downloaded = append(downloaded, fmt.Sprintf("- Card %d: %s", ref.CardID, cardName))
		}
		tools.LogAudit(audit, toolName, params, fmt.Sprintf("%s: %d downloaded, %d failed", safety.OutcomeOK, len(downloaded), len(failed)), start)

		lines := []string{
			fmt.Sprintf("### 📥 Downloading Dashboard: %s\n", name),
			fmt.Sprintf("**Output Directory:** %s\n", dir),
		}
		if len(downloaded) > 0 {
			lines = append(lines, "#### ✅ Downloaded Cards:")
			lines = append(lines, downloaded...)
		}
		if len(failed) > 0 {
			lines = append(lines, "\n#### ❌ Failed Cards:")
			lines = append(lines, failed...)
		}
		lines = append(lines, fmt.Sprintf("\n**Summary:** %d downloaded, %d failed", len(downloaded), len(failed)))
		return mcp.NewToolResultText(strings.Join(lines, "\n")), nil
	}

	return tools.Registration{Tool: tool, Handler: server.ToolHandlerFunc(handler)}
}
