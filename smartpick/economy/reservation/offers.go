package reservation

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru"
	"github.com/uptrace/bun"

	"github.com/dave999999/SmartPick1-sub004/smartpick/database/models"
	"github.com/dave999999/SmartPick1-sub004/smartpick/database/repositories"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy"
	"github.com/dave999999/SmartPick1-sub004/smartpick/economy/utils"
)

// cachedOffer is a read-cache entry with its fill time for expiry checks.
type cachedOffer struct {
	offer     *models.Offer
	timestamp time.Time
}

// OfferService fronts the offer repository with an LRU read cache. Browse
// traffic hits the cache; every lifecycle mutation goes to the locked row
// and drops the cached copy.
type OfferService struct {
	offers      repositories.OfferRepository
	cache       *lru.Cache
	cacheExpiry time.Duration
}

func NewOfferService(offers repositories.OfferRepository) *OfferService {
	cache, _ := lru.New(utils.OfferCacheSize)
	return &OfferService{
		offers:      offers,
		cache:       cache,
		cacheExpiry: utils.OfferCacheExpiry,
	}
}

// Publish creates a new offer for a partner.
func (s *OfferService) Publish(ctx context.Context, partnerID, title string, pointsPerUnit int64, quantity int, pickupStart, pickupEnd time.Time) (*models.Offer, error) {
	if title == "" {
		return nil, &economy.ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if pointsPerUnit <= 0 {
		return nil, &economy.ValidationError{Field: "points_per_unit", Reason: "must be positive"}
	}
	if quantity <= 0 {
		return nil, &economy.ValidationError{Field: "quantity", Reason: "must be positive"}
	}
	if !pickupEnd.After(pickupStart) {
		return nil, &economy.ValidationError{Field: "pickup_end", Reason: "must be after pickup_start"}
	}

	offer := &models.Offer{
		ID:                uuid.New().String(),
		PartnerID:         partnerID,
		Title:             title,
		PointsPerUnit:     pointsPerUnit,
		QuantityTotal:     quantity,
		QuantityAvailable: quantity,
		PickupStart:       pickupStart,
		PickupEnd:         pickupEnd,
		Status:            models.OfferStatusActive,
	}
	if err := s.offers.Create(ctx, offer); err != nil {
		return nil, economy.Storagef("create offer", err)
	}

	slog.Info("Offer published",
		slog.String("offer_id", offer.ID),
		slog.String("partner_id", partnerID),
		slog.Int("quantity", quantity))
	return offer, nil
}

// Get returns the offer for display, served from cache when fresh.
func (s *OfferService) Get(ctx context.Context, offerID string) (*models.Offer, error) {
	if v, ok := s.cache.Get(offerID); ok {
		entry := v.(cachedOffer)
		if time.Since(entry.timestamp) < s.cacheExpiry {
			return entry.offer, nil
		}
		s.cache.Remove(offerID)
	}

	offer, err := s.offers.GetByID(ctx, offerID)
	if err != nil {
		return nil, economy.Storagef("get offer", err)
	}
	s.cache.Add(offerID, cachedOffer{offer: offer, timestamp: time.Now()})
	return offer, nil
}

// getForUpdate row-locks the offer inside the caller's transaction,
// bypassing the cache.
func (s *OfferService) getForUpdate(ctx context.Context, db bun.IDB, offerID string) (*models.Offer, error) {
	return s.offers.GetForUpdate(ctx, db, offerID)
}

// adjustAvailability moves quantity_available and invalidates the cached
// copy. Callers hold the row lock.
func (s *OfferService) adjustAvailability(ctx context.Context, db bun.IDB, offerID string, delta int) error {
	if err := s.offers.AdjustAvailability(ctx, db, offerID, delta); err != nil {
		return err
	}
	s.cache.Remove(offerID)
	return nil
}
