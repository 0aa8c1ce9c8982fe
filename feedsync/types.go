package feedsync

import (
	"strings"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"bitbucket.org/cvomotor/vehicles_backend/utils"
)

// maxPhotoSlots bounds the slot scan; the scraper currently exports 15
// columns but the platform occasionally adds more.
const maxPhotoSlots = 30

// RawVehicleRow is one advertised vehicle as delivered by the scraper,
// photo-URL slots in column order (index 0 = slot 1).
type RawVehicleRow struct {
	Plate        string
	Model        string
	Brand        string
	Availability string
	PhotoURLs    []string
}

// NormalizedPlate is the join key for this row.
func (r *RawVehicleRow) NormalizedPlate() string {
	return utils.NormalizePlate(r.Plate)
}

// HasRealPhotos decides whether the row shows actual photography.
//
// The advertising platform pre-fills the first slots (1..RealPhotoSlotStart-1)
// with dummy stock imagery, so only slots from RealPhotoSlotStart onward
// count. Getting this backwards silently marks the whole fleet as
// photographed; keep the explicit tests in ingest_test.go green.
func HasRealPhotos(photoURLs []string) bool {
	start := config.RealPhotoSlotStart()
	for i, url := range photoURLs {
		slot := i + 1
		if slot < start {
			continue
		}
		if strings.TrimSpace(url) != "" {
			return true
		}
	}
	return false
}
