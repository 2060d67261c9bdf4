package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"intakehub/internal/org/models"
	"intakehub/pkg/platform/sentinel"
)

// InMemory stores districts and schools in maps keyed by code.
type InMemory struct {
	mu        sync.RWMutex
	districts map[string]models.District
	schools   map[string]models.School
}

func NewInMemory() *InMemory {
	return &InMemory{
		districts: make(map[string]models.District),
		schools:   make(map[string]models.School),
	}
}

func (s *InMemory) CreateDistrict(_ context.Context, d *models.District) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.districts[d.Code]; ok {
		return fmt.Errorf("district %s: %w", d.Code, sentinel.ErrConflict)
	}
	s.districts[d.Code] = *d
	return nil
}

func (s *InMemory) CreateSchool(_ context.Context, sc *models.School) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.districts[sc.DistrictCode]; !ok {
		return fmt.Errorf("district %s: %w", sc.DistrictCode, sentinel.ErrNotFound)
	}
	if _, ok := s.schools[sc.Code]; ok {
		return fmt.Errorf("school %s: %w", sc.Code, sentinel.ErrConflict)
	}
	cp := *sc
	cp.GradeBands = append([]string(nil), sc.GradeBands...)
	s.schools[sc.Code] = cp
	return nil
}

func (s *InMemory) FindDistrict(_ context.Context, code string) (*models.District, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.districts[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &d, nil
}

func (s *InMemory) FindSchool(_ context.Context, code string) (*models.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.schools[code]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	sc.GradeBands = append([]string(nil), sc.GradeBands...)
	return &sc, nil
}

func (s *InMemory) ListDistricts(_ context.Context) ([]models.District, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.District, 0, len(s.districts))
	for _, d := range s.districts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) ListSchools(_ context.Context, districtCode string) ([]models.School, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.School
	for _, sc := range s.schools {
		if districtCode == "" || sc.DistrictCode == districtCode {
			sc.GradeBands = append([]string(nil), sc.GradeBands...)
			out = append(out, sc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *InMemory) SetDistrictActive(_ context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.districts[code]
	if !ok {
		return sentinel.ErrNotFound
	}
	d.Active = active
	s.districts[code] = d
	return nil
}

func (s *InMemory) SetSchoolActive(_ context.Context, code string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sc, ok := s.schools[code]
	if !ok {
		return sentinel.ErrNotFound
	}
	sc.Active = active
	s.schools[code] = sc
	return nil
}
