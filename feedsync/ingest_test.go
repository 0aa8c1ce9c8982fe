package feedsync

import (
	"bytes"
	"encoding/json"
	"strconv"
	"testing"

	"github.com/xuri/excelize/v2"
)

func TestHasRealPhotosIgnoresDummySlots(t *testing.T) {
	dummyOnly := make([]string, 8)
	for i := range dummyOnly {
		dummyOnly[i] = "https://cdn.example/dummy.jpg"
	}
	if HasRealPhotos(dummyOnly) {
		t.Error("slots 1-8 filled: must not count as real photos")
	}

	withReal := append(append([]string{}, dummyOnly...), "https://cdn.example/real.jpg")
	if !HasRealPhotos(withReal) {
		t.Error("slot 9 filled: must count as real photos")
	}

	if HasRealPhotos(nil) {
		t.Error("no slots at all must not count as real photos")
	}

	blanks := append(append([]string{}, dummyOnly...), "   ")
	if HasRealPhotos(blanks) {
		t.Error("whitespace-only slot 9 must not count as real photos")
	}
}

func TestHasRealPhotosHonorsConfiguredSlotStart(t *testing.T) {
	t.Setenv("REAL_PHOTO_SLOT_START", "3")
	urls := []string{"dummy", "dummy", "https://cdn.example/real.jpg"}
	if !HasRealPhotos(urls) {
		t.Error("slot 3 should count when REAL_PHOTO_SLOT_START=3")
	}
}

func TestNormalizedPlate(t *testing.T) {
	row := RawVehicleRow{Plate: "  1234abc "}
	if got := row.NormalizedPlate(); got != "1234ABC" {
		t.Errorf("NormalizedPlate() = %q, want 1234ABC", got)
	}
}

func TestParseWorkbook(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)

	header := []interface{}{"Matrícula", "Modelo", "Marca", "Disponibilidad"}
	for i := 1; i <= 10; i++ {
		header = append(header, "URL foto "+strconv.Itoa(i))
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		t.Fatalf("SetSheetRow header: %v", err)
	}

	row1 := []interface{}{"1111AAA", "Corsa", "Opel", "Disponible",
		"d1", "d2", "d3", "d4", "d5", "d6", "d7", "d8", "https://cdn.example/real.jpg"}
	if err := f.SetSheetRow(sheet, "A2", &row1); err != nil {
		t.Fatalf("SetSheetRow row1: %v", err)
	}
	row2 := []interface{}{"2222BBB", "Astra", "Opel", "Reservado", "d1"}
	if err := f.SetSheetRow(sheet, "A3", &row2); err != nil {
		t.Fatalf("SetSheetRow row2: %v", err)
	}
	// Row without a plate must be dropped, not imported blank.
	row3 := []interface{}{"", "Mokka", "Opel", "Disponible"}
	if err := f.SetSheetRow(sheet, "A4", &row3); err != nil {
		t.Fatalf("SetSheetRow row3: %v", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	rows, err := ParseWorkbook(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("ParseWorkbook: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("parsed %d rows, want 2", len(rows))
	}

	first := rows[0]
	if first.Plate != "1111AAA" || first.Model != "Corsa" || first.Brand != "Opel" {
		t.Errorf("unexpected first row: %+v", first)
	}
	if len(first.PhotoURLs) < 9 || first.PhotoURLs[8] != "https://cdn.example/real.jpg" {
		t.Errorf("photo slot 9 lost: %v", first.PhotoURLs)
	}
	if !HasRealPhotos(first.PhotoURLs) {
		t.Error("first row has a slot-9 photo and must count as real")
	}
	if HasRealPhotos(rows[1].PhotoURLs) {
		t.Error("second row has only slot 1 and must not count as real")
	}
}

func TestFeedWireRowPhotoSlots(t *testing.T) {
	payload := []byte(`[{
		"plate": "3333ccc",
		"model": "Grandland",
		"brand": "Opel",
		"availability": "disponible",
		"photo_url_1": "d1",
		"photo_url_9": "https://cdn.example/real.jpg"
	}]`)

	var wire []feedWireRow
	if err := json.Unmarshal(payload, &wire); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(wire) != 1 {
		t.Fatalf("got %d rows, want 1", len(wire))
	}
	urls := wire[0].photoURLs()
	if len(urls) != 9 {
		t.Fatalf("got %d slots, want 9", len(urls))
	}
	if urls[0] != "d1" || urls[8] != "https://cdn.example/real.jpg" {
		t.Errorf("slot mapping wrong: %v", urls)
	}
	if !HasRealPhotos(urls) {
		t.Error("slot 9 photo must count as real")
	}
}
