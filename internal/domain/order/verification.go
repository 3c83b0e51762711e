package order

import "time"

// DefaultDownloadTTL is how long a download verification stays valid.
const DefaultDownloadTTL = 24 * time.Hour

// DownloadVerification authorises downloading a purchased product until ExpiresAt.
type DownloadVerification struct {
	ID        string
	ProductID string
	CreatedAt time.Time
	ExpiresAt time.Time
}

func NewDownloadVerification(id, productID string, now time.Time, ttl time.Duration) *DownloadVerification {
	if ttl <= 0 {
		ttl = DefaultDownloadTTL
	}
	now = now.UTC()
	return &DownloadVerification{
		ID:        id,
		ProductID: productID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

// Expired reports whether the verification is no longer valid at t.
func (v DownloadVerification) Expired(t time.Time) bool {
	return !t.Before(v.ExpiresAt)
}
