package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// DropStatus is a derived display label. Admission never consults it; the
// allocator uses the window bounds and stock directly.
type DropStatus string

const (
	StatusUpcoming DropStatus = "upcoming"
	StatusActive   DropStatus = "active"
	StatusSoldOut  DropStatus = "sold_out"
	StatusEnded    DropStatus = "ended"
)

type Drop struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	ImageURL    string    `json:"image_url,omitempty"`

	// TotalStock is immutable after creation. AvailableStock is mutated only
	// by the claim allocator, one unit at a time.
	TotalStock     int `json:"total_stock"`
	AvailableStock int `json:"available_stock"`

	ClaimWindowStart time.Time `json:"claim_window_start"`
	ClaimWindowEnd   time.Time `json:"claim_window_end"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewDrop(title, description, imageURL string, totalStock int, windowStart, windowEnd time.Time, now time.Time) (*Drop, error) {
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	imageURL = strings.TrimSpace(imageURL)

	if title == "" || len(title) > 120 {
		return nil, ErrValidation("title is required and must be <= 120 chars")
	}
	if len(description) > 4000 {
		return nil, ErrValidation("description must be <= 4000 chars")
	}
	if len(imageURL) > 500 {
		return nil, ErrValidation("image_url must be <= 500 chars")
	}
	if totalStock < 1 {
		return nil, ErrValidation("total_stock must be at least 1")
	}
	if windowStart.IsZero() || windowEnd.IsZero() || !windowEnd.After(windowStart) {
		return nil, ErrValidation("claim_window_end must be after claim_window_start")
	}

	return &Drop{
		ID:               uuid.New(),
		Title:            title,
		Description:      description,
		ImageURL:         imageURL,
		TotalStock:       totalStock,
		AvailableStock:   totalStock,
		ClaimWindowStart: windowStart.UTC(),
		ClaimWindowEnd:   windowEnd.UTC(),
		CreatedAt:        now.UTC(),
		UpdatedAt:        now.UTC(),
	}, nil
}

// WindowActive reports whether claims may be admitted at the given instant.
// Both bounds are inclusive.
func (d *Drop) WindowActive(now time.Time) bool {
	return !now.Before(d.ClaimWindowStart) && !now.After(d.ClaimWindowEnd)
}

func (d *Drop) Status(now time.Time) DropStatus {
	switch {
	case now.Before(d.ClaimWindowStart):
		return StatusUpcoming
	case now.After(d.ClaimWindowEnd):
		return StatusEnded
	case d.AvailableStock <= 0:
		return StatusSoldOut
	default:
		return StatusActive
	}
}

// ApplyUpdate patches presentation fields and window bounds. Stock is not
// updatable: total_stock is fixed at creation and available_stock belongs to
// the allocator.
func (d *Drop) ApplyUpdate(title, description, imageURL *string, windowStart, windowEnd *time.Time, now time.Time) error {
	if title != nil {
		v := strings.TrimSpace(*title)
		if v == "" || len(v) > 120 {
			return ErrValidation("title must be non-empty and <= 120 chars")
		}
		d.Title = v
	}
	if description != nil {
		v := strings.TrimSpace(*description)
		if len(v) > 4000 {
			return ErrValidation("description must be <= 4000 chars")
		}
		d.Description = v
	}
	if imageURL != nil {
		v := strings.TrimSpace(*imageURL)
		if len(v) > 500 {
			return ErrValidation("image_url must be <= 500 chars")
		}
		d.ImageURL = v
	}

	start := d.ClaimWindowStart
	end := d.ClaimWindowEnd
	if windowStart != nil {
		start = windowStart.UTC()
	}
	if windowEnd != nil {
		end = windowEnd.UTC()
	}
	if !end.After(start) {
		return ErrValidation("claim_window_end must be after claim_window_start")
	}
	d.ClaimWindowStart = start
	d.ClaimWindowEnd = end

	d.UpdatedAt = now.UTC()
	return nil
}
