package service

import (
	"cmp"
	"context"
	"log"
	"slices"
	"strings"

	"github.com/ejgdev/e5n/internal/apperr"
	"github.com/ejgdev/e5n/internal/cache"
	"github.com/ejgdev/e5n/internal/model"
	"github.com/ejgdev/e5n/internal/storage"
)

// ScoringConfig holds the scoring constants.
type ScoringConfig struct {
	BasePoint float64
	// TeamSizeModifier scales team results by team size.
	TeamSizeModifier func(size int) float64
	// EventCode selects which bonus points count.
	EventCode string
}

func (c ScoringConfig) withDefaults() ScoringConfig {
	if c.BasePoint == 0 {
		c.BasePoint = 10
	}
	if c.TeamSizeModifier == nil {
		c.TeamSizeModifier = func(int) float64 { return 1 }
	}
	if c.EventCode == "" {
		c.EventCode = "E5N"
	}
	return c
}

// ScoringService recomputes and reports class points.
type ScoringService struct {
	store storage.Store
	cache *cache.Cache
	cfg   ScoringConfig
}

// NewScoringService constructs a ScoringService.
func NewScoringService(store storage.Store, c *cache.Cache, cfg ScoringConfig) *ScoringService {
	return &ScoringService{store: store, cache: c, cfg: cfg.withDefaults()}
}

// ComputeClassPoints totals the points of every class in snap:
//
//	bonus + Σ place × weight × base              (individual results)
//	      + Σ place × weight × modifier(n) × base (team results, per member)
//
// where n is the number of members and leaders of the team. Every class
// in snap.Classes appears in the result, sorted by label.
func ComputeClassPoints(snap *model.ScoringSnapshot, cfg ScoringConfig) []model.Class {
	cfg = cfg.withDefaults()
	totals := make(map[string]float64)
	for _, c := range snap.Classes {
		totals[c.Label] = 0
	}
	for _, b := range snap.Bonus {
		totals[b.ClassLabel] += b.Points
	}

	classOf := make(map[int64]string, len(snap.Students))
	for _, u := range snap.Students {
		if u.EJGClass != "" {
			classOf[u.ID] = u.EJGClass
			if _, ok := totals[u.EJGClass]; !ok {
				totals[u.EJGClass] = 0
			}
		}
	}
	members := make(map[string][]int64)
	for _, m := range snap.Memberships {
		if m.Role.Active() {
			members[m.TeamCode] = append(members[m.TeamCode], m.UserID)
		}
	}

	for _, r := range snap.Results {
		points := float64(r.Place) * float64(r.Weight) * cfg.BasePoint
		switch {
		case r.Attender.IsUser():
			if label, ok := classOf[r.Attender.UserID]; ok {
				totals[label] += points
			}
		case r.Attender.IsTeam():
			team := members[r.Attender.TeamCode]
			if len(team) == 0 {
				continue
			}
			share := points * cfg.TeamSizeModifier(len(team))
			for _, uid := range team {
				if label, ok := classOf[uid]; ok {
					totals[label] += share
				}
			}
		}
	}

	out := make([]model.Class, 0, len(totals))
	for label, points := range totals {
		out = append(out, model.Class{Label: label, Points: points})
	}
	slices.SortFunc(out, func(a, b model.Class) int { return strings.Compare(a.Label, b.Label) })
	return out
}

// Recalculate recomputes every class total from scratch and stores it.
// Running it twice without other changes gives the same totals.
func (s *ScoringService) Recalculate(ctx context.Context) ([]model.Class, error) {
	var out []model.Class
	err := s.store.InTx(ctx, func(tx storage.Store) error {
		snap, err := tx.ScoringSnapshot(ctx, s.cfg.EventCode)
		if err != nil {
			return err
		}
		out = ComputeClassPoints(snap, s.cfg)
		return tx.SaveClassPoints(ctx, out)
	})
	if err != nil {
		return nil, err
	}
	sortStandings(out)
	s.cache.Forget(standingsKey)
	log.Printf("class points recalculated classes=%d", len(out))
	return out, nil
}

// AddBonusPoints grants manual points to a class. They count from the next
// recalculation when tagged with the configured event code.
func (s *ScoringService) AddBonusPoints(ctx context.Context, label string, req model.BonusPointsRequest) (*model.BonusPoints, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, apperr.Invalid("class label is required")
	}
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	b := model.BonusPoints{ClassLabel: label, EventCode: req.EventCode, Points: req.Points}
	if err := s.store.AddBonusPoints(ctx, b); err != nil {
		return nil, err
	}
	s.cache.Forget(standingsKey)
	log.Printf("bonus points class=%s event_code=%s points=%v", label, b.EventCode, b.Points)
	return &b, nil
}

const standingsKey = "classes.all"

// Standings returns the stored class totals, highest first.
func (s *ScoringService) Standings(ctx context.Context) ([]model.Class, error) {
	return cache.Remember(ctx, s.cache, standingsKey, 0, nil, func(ctx context.Context) ([]model.Class, error) {
		classes, err := s.store.ListClasses(ctx)
		if err != nil {
			return nil, err
		}
		if classes == nil {
			classes = []model.Class{}
		}
		sortStandings(classes)
		return classes, nil
	})
}

func sortStandings(classes []model.Class) {
	slices.SortFunc(classes, func(a, b model.Class) int {
		return cmp.Or(cmp.Compare(b.Points, a.Points), strings.Compare(a.Label, b.Label))
	})
}
