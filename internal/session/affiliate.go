// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dastyar-team/dastyar/internal/browser"
	"github.com/dastyar-team/dastyar/internal/logging"
)

// ProxyMarker is the substring of the venue proxy URL opened by the portal.
const ProxyMarker = "daccess"

const (
	tileSelector = "div.item.c-pointer"
	tileText     = "دسترسی مستقیم"

	// tileFallback is the recorded path to the tile icon.
	tileFallback = "div.w-100.mt-9.mb-0.mb-0 > " +
		"div.d-flex.row.w-80.mx-auto.justify-center.align-center.mb-1 > " +
		"div.col.d-flex.flex-column.rounded-lg.justify-center.align-center.px-0.mx-0.item.c-pointer.white--text > " +
		"div.mt-4.svg-size.text-center.rounded-lg.pa-1.d-flex.align-center.justify-center.v-card.v-card--link." +
		"v-sheet.theme--light.elevation-0.white.item-unselected > svg"

	rowSelector = "table tbody tr"

	// rowButtonFallback is the recorded path to a row's link button.
	rowButtonFallback = "td.text-center div.d-flex.flex-row.align-center.justify-center.w-100 a.white--text.ml-1.pa-0 > button"
)

// venueNames are the spellings of the venue in the portal table. Lowered
// names match case-insensitively; the others match as written.
var (
	venueNames      = []string{"sciencedirect", "science direct"}
	venueNamesLocal = []string{"ساینس دایرکت", "ساینس"}
	linkWords       = []string{"لینک", "Link", "link"}
)

// OpenAffiliate opens the venue through the portal's direct-access table
// and returns the new proxy tab. The browser must already be logged in.
func OpenAffiliate(ctx context.Context, b browser.Browser, t Timeouts, logger *log.Logger) (browser.Page, error) {
	logger = logging.OrDiscard(logger)
	page := b.Page()
	if err := page.Navigate(ctx, HomeURL); err != nil {
		return nil, fmt.Errorf("opening portal home: %w", err)
	}
	dismissOverlays(ctx, page)

	tile, err := page.ElementByText(ctx, tileSelector, tileText, t.Tile)
	if err != nil {
		logger.Warn("tile_text_not_found", "err", err)
		if tile, err = page.Element(ctx, tileFallback, t.Tile); err != nil {
			return nil, fmt.Errorf("direct-access tile: %w", err)
		}
	}
	pause(ctx, 400*time.Millisecond, 800*time.Millisecond)
	if err := tile.Click(ctx); err != nil {
		return nil, fmt.Errorf("clicking direct-access tile: %w", err)
	}
	pause(ctx, time.Second, time.Second)

	var button browser.Element
	if !browser.Poll(ctx, t.Table, t.Interval, func() bool {
		button = venueButton(page, logger)
		return button != nil
	}) {
		return nil, fmt.Errorf("venue link button: %w", browser.ErrNotFound)
	}

	pause(ctx, 400*time.Millisecond, 800*time.Millisecond)
	if err := button.Click(ctx); err != nil {
		return nil, fmt.Errorf("clicking venue link: %w", err)
	}

	tab, err := b.WaitNewPage(ctx, t.NewTab)
	if err != nil {
		return nil, fmt.Errorf("venue tab: %w", err)
	}
	if err := tab.WaitURL(ctx, ProxyMarker, t.Proxy); err != nil {
		return nil, fmt.Errorf("venue proxy at %s: %w", tab.URL(), err)
	}
	logger.Info("venue_proxy_ready", "url", tab.URL())
	return tab, nil
}

// venueButton finds the venue row and returns the link button in it or in
// one of the next two rows, which some layouts split the row into.
func venueButton(page browser.Page, logger *log.Logger) browser.Element {
	rows := page.Elements(rowSelector)
	target := -1
	for i, row := range rows {
		if isVenueRow(row.Text()) {
			target = i
			break
		}
	}
	if target < 0 {
		return nil
	}
	logger.Debug("venue_row_found", "index", target)

	for j := target; j < min(target+3, len(rows)); j++ {
		for _, b := range rows[j].Elements("button") {
			text := strings.TrimSpace(b.Text())
			for _, w := range linkWords {
				if strings.Contains(text, w) && b.Visible() {
					return b
				}
			}
		}
		for _, b := range rows[j].Elements(rowButtonFallback) {
			if b.Visible() {
				return b
			}
		}
	}
	return nil
}

func isVenueRow(text string) bool {
	low := strings.ToLower(text)
	for _, n := range venueNames {
		if strings.Contains(low, n) {
			return true
		}
	}
	for _, n := range venueNamesLocal {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
