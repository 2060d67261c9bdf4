package store

import (
	"context"
	"errors"
	"time"

	"intakehub/internal/org/models"
	"intakehub/pkg/platform/sentinel"
)

// SeedDevelopment loads a small district and school set for local runs and
// handler tests. Existing codes are left untouched.
func SeedDevelopment(ctx context.Context, s interface {
	CreateDistrict(ctx context.Context, d *models.District) error
	CreateSchool(ctx context.Context, sc *models.School) error
}) error {
	now := time.Now().UTC()
	districts := []struct{ code, name, region string }{
		{"CHESAPEAKE", "Chesapeake Public Schools", "Hampton Roads"},
		{"NORFOLK", "Norfolk Public Schools", "Hampton Roads"},
	}
	schools := []struct {
		code, district, name string
		bands                []string
	}{
		{"CHES_001", "CHESAPEAKE", "Chesapeake Elementary", []string{models.GradeBandElementary}},
		{"CHES_002", "CHESAPEAKE", "Chesapeake High", []string{models.GradeBandHigh}},
		{"NORF_001", "NORFOLK", "Norfolk Middle", []string{models.GradeBandMiddle}},
	}

	for _, d := range districts {
		district, err := models.NewDistrict(d.code, d.name, d.region, now)
		if err != nil {
			return err
		}
		if err := s.CreateDistrict(ctx, district); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return err
		}
	}
	for _, sc := range schools {
		school, err := models.NewSchool(sc.code, sc.district, sc.name, sc.bands, now)
		if err != nil {
			return err
		}
		if err := s.CreateSchool(ctx, school); err != nil && !errors.Is(err, sentinel.ErrConflict) {
			return err
		}
	}
	return nil
}
