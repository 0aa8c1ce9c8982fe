package feedsync

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// column header aliases seen across scraper exports.
var headerAliases = map[string]string{
	"matricula":      "plate",
	"matrícula":      "plate",
	"plate":          "plate",
	"modelo":         "model",
	"model":          "model",
	"marca":          "brand",
	"brand":          "brand",
	"disponibilidad": "availability",
	"availability":   "availability",
}

// ParseWorkbook reads a scraper XLSX export. The first sheet carries one row
// per advertised vehicle; photo columns are titled "URL foto 1".."URL foto N"
// and map to slots by their number, not by column position.
func ParseWorkbook(r io.Reader) ([]RawVehicleRow, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	fieldCols := map[string]int{}
	photoCols := map[int]int{}
	maxSlot := 0
	for col, header := range rows[0] {
		h := strings.ToLower(strings.TrimSpace(header))
		if field, ok := headerAliases[h]; ok {
			fieldCols[field] = col
			continue
		}
		if slot, ok := photoSlotFromHeader(h); ok {
			photoCols[slot] = col
			if slot > maxSlot {
				maxSlot = slot
			}
		}
	}
	if _, ok := fieldCols["plate"]; !ok {
		return nil, fmt.Errorf("workbook sheet %q has no plate column", sheets[0])
	}

	out := make([]RawVehicleRow, 0, len(rows)-1)
	for _, row := range rows[1:] {
		cell := func(field string) string {
			col, ok := fieldCols[field]
			if !ok || col >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[col])
		}
		plate := cell("plate")
		if plate == "" {
			continue
		}
		urls := make([]string, maxSlot)
		for slot, col := range photoCols {
			if col < len(row) {
				urls[slot-1] = strings.TrimSpace(row[col])
			}
		}
		out = append(out, RawVehicleRow{
			Plate:        plate,
			Model:        cell("model"),
			Brand:        cell("brand"),
			Availability: cell("availability"),
			PhotoURLs:    urls,
		})
	}
	return out, nil
}

// photoSlotFromHeader recognizes "url foto 9", "foto 9" and "photo_url_9".
func photoSlotFromHeader(h string) (int, bool) {
	for _, prefix := range []string{"url foto ", "foto ", "photo_url_", "photo "} {
		if strings.HasPrefix(h, prefix) {
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(h, prefix)))
			if err == nil && n >= 1 && n <= maxPhotoSlots {
				return n, true
			}
		}
	}
	return 0, false
}
