package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// RealPhotoSlotStart is the first feed photo-URL slot that counts as a real
// photograph. Slots below it hold dummy stock imagery injected by the
// advertising platform and must never flip a vehicle to "photographed".
//
// Set via env:
// - REAL_PHOTO_SLOT_START (default 9)
func RealPhotoSlotStart() int {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("REAL_PHOTO_SLOT_START")))
	if err != nil || n < 1 {
		return 9
	}
	return n
}

// FeedAbsenceGraceWindow is how long a plate may be missing from the feed
// before the drift auditor surfaces it as a professional-sale candidate.
// The product owner has not fixed a value; 24h matches the old health checks.
//
// Set via env:
// - FEED_ABSENCE_GRACE_HOURS (default 24)
func FeedAbsenceGraceWindow() time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("FEED_ABSENCE_GRACE_HOURS")))
	if err != nil || n <= 0 {
		n = 24
	}
	return time.Duration(n) * time.Hour
}

// FeedAbsenceWarnWindow is the softer threshold used only by the health score.
func FeedAbsenceWarnWindow() time.Duration {
	return FeedAbsenceGraceWindow() / 2
}

// FeedURL is the external inventory feed endpoint (pull-based).
func FeedURL() string {
	return strings.TrimSpace(os.Getenv("FEED_URL"))
}

// FeedFetchTimeout bounds the external feed fetch. The feed is the only
// untrusted upstream with a timeout; every ledger write is local.
//
// Set via env:
// - FEED_FETCH_TIMEOUT_SECONDS (default 60)
func FeedFetchTimeout() time.Duration {
	n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("FEED_FETCH_TIMEOUT_SECONDS")))
	if err != nil || n <= 0 {
		n = 60
	}
	return time.Duration(n) * time.Second
}
