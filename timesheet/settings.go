package timesheet

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// =============================================================================
// SETTINGS DEFAULTS
// =============================================================================

const (
	// DefaultMaxWeeklyMinutes is the weekly cap when a company has none.
	DefaultMaxWeeklyMinutes = 2400

	// DefaultAutoSubmitHour is the UTC hour the auto-submit trigger fires.
	DefaultAutoSubmitHour = 18

	// FallbackCountryCode is used when neither a row, the company default,
	// nor the office list yields a country.
	FallbackCountryCode = "US"

	DefaultLocation = LocationOffice
)

// Settings is the effective configuration the reconciler works with.
type Settings struct {
	DefaultCountryCode string
	DefaultLocation    Location
	MaxWeeklyMinutes   int
	OfficeCountryCodes []string
	AutoSubmitHour     int
}

// AutoSubmitTime renders the auto-submit hour as HH:00.
func (s Settings) AutoSubmitTime() string {
	return fmt.Sprintf("%02d:00", s.AutoSubmitHour)
}

// IsOfficeCountry reports whether code may be used for OFFICE/HYBRID rows.
// An empty office set means there is no constraint.
func (s Settings) IsOfficeCountry(code string) bool {
	if len(s.OfficeCountryCodes) == 0 {
		return true
	}
	return slices.Contains(s.OfficeCountryCodes, code)
}

// FallbackCountry returns default country, then first office country,
// then FallbackCountryCode.
func (s Settings) FallbackCountry() string {
	if s.DefaultCountryCode != "" {
		return s.DefaultCountryCode
	}
	if len(s.OfficeCountryCodes) > 0 {
		return s.OfficeCountryCodes[0]
	}
	return FallbackCountryCode
}

// ResolveSettings turns optional raw settings into effective settings.
// A nil input yields the global defaults: no office constraint, OFFICE
// location, a 2400 minute cap and an 18:00 auto-submit.
func ResolveSettings(raw *CompanySettings) Settings {
	s := Settings{
		DefaultLocation:  DefaultLocation,
		MaxWeeklyMinutes: DefaultMaxWeeklyMinutes,
		AutoSubmitHour:   DefaultAutoSubmitHour,
	}
	if raw == nil {
		return s
	}

	if raw.DefaultLocation != "" {
		s.DefaultLocation = normalizeLocation(string(raw.DefaultLocation), DefaultLocation)
	}
	if raw.MaxWeeklyMinutes > 0 {
		s.MaxWeeklyMinutes = raw.MaxWeeklyMinutes
	}
	if raw.AutoSubmitHour != nil && *raw.AutoSubmitHour >= 0 && *raw.AutoSubmitHour < 24 {
		s.AutoSubmitHour = *raw.AutoSubmitHour
	}
	if raw.DefaultCountryCode != nil {
		s.DefaultCountryCode = normalizeCountry(*raw.DefaultCountryCode)
	}

	for _, code := range raw.OfficeCountryCodes {
		code = normalizeCountry(code)
		if code != "" && !slices.Contains(s.OfficeCountryCodes, code) {
			s.OfficeCountryCodes = append(s.OfficeCountryCodes, code)
		}
	}
	if s.DefaultCountryCode != "" && !slices.Contains(s.OfficeCountryCodes, s.DefaultCountryCode) {
		s.OfficeCountryCodes = append(s.OfficeCountryCodes, s.DefaultCountryCode)
	}
	return s
}

// loadSettings fetches company settings, degrading to nil on any lookup
// failure.
func loadSettings(ctx context.Context, provider SettingsProvider, companyID string, log *zap.Logger) *CompanySettings {
	if provider == nil {
		return nil
	}
	raw, err := provider.GetCompanySettings(ctx, companyID)
	if err != nil {
		log.Warn("company settings unavailable, using defaults",
			zap.String("company_id", companyID), zap.Error(err))
		return nil
	}
	return raw
}

func normalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func normalizeLocation(v string, fallback Location) Location {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "OFFICE", "ONSITE":
		return LocationOffice
	case "HOMEWORKING", "REMOTE", "HOME":
		return LocationHomeworking
	case "HYBRID":
		return LocationHybrid
	}
	return fallback
}
