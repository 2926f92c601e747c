package app

import (
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/dev-kishor/webcam-backend/internal/domain"
)

// LinkService hands out shareable invite tokens and resolves them back
// to ride ids. In-memory for now; the contract is a plain key lookup,
// so a persistent store can replace it without touching callers.
type LinkService struct {
	mu     sync.RWMutex
	byLink map[string]domain.RideID
	byRide map[domain.RideID]string
}

func NewLinkService() *LinkService {
	return &LinkService{
		byLink: make(map[string]domain.RideID),
		byRide: make(map[domain.RideID]string),
	}
}

// Generate returns the ride's share token, minting one on first use.
func (s *LinkService) Generate(rideID domain.RideID) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if link, ok := s.byRide[rideID]; ok {
		return link
	}
	link := strings.ReplaceAll(uuid.NewString(), "-", "")
	s.byLink[link] = rideID
	s.byRide[rideID] = link
	log.Info().Str("module", "app.links").Str("ride", string(rideID)).Msg("share link generated")
	return link
}

// Resolve maps a token back to its ride id.
func (s *LinkService) Resolve(link string) (domain.RideID, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rideID, ok := s.byLink[link]
	return rideID, ok
}

// Seed installs a fixed link → ride mapping. Test hook.
func (s *LinkService) Seed(link string, rideID domain.RideID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byLink[link] = rideID
	s.byRide[rideID] = link
}
