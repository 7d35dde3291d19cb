package service

import (
	"context"
	"errors"
	"fmt"

	"hls-offline/internal/domain"
	"hls-offline/internal/repository"
)

const downloadQualityKey = "download_quality"

// ErrInvalidQuality is returned when storing a preference outside Best, High, Medium and Low.
var ErrInvalidQuality = errors.New("invalid download quality")

// SettingsService stores user preferences.
type SettingsService interface {
	GetDownloadQuality(ctx context.Context) (domain.Quality, error)
	SetDownloadQuality(ctx context.Context, quality string) (domain.Quality, error)
}

type settingsService struct {
	settings repository.SettingsRepository
}

func NewSettingsService(settings repository.SettingsRepository) SettingsService {
	return &settingsService{settings: settings}
}

// GetDownloadQuality returns the stored preference, Best when none has been stored.
func (s *settingsService) GetDownloadQuality(ctx context.Context) (domain.Quality, error) {
	v, err := s.settings.Get(ctx, downloadQualityKey)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return domain.QualityBest, nil
		}
		return "", err
	}
	if q, ok := domain.ParseQuality(v); ok {
		return q, nil
	}
	return domain.QualityBest, nil
}

func (s *settingsService) SetDownloadQuality(ctx context.Context, quality string) (domain.Quality, error) {
	q, ok := domain.ParseQuality(quality)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidQuality, quality)
	}
	if err := s.settings.Set(ctx, downloadQualityKey, string(q)); err != nil {
		return "", err
	}
	return q, nil
}
