package push

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"callsignal-backend/pkg/logger"
)

// ProviderType represents the type of push notification provider
type ProviderType string

const (
	ProviderTypeMock ProviderType = "mock"
	ProviderTypeFCM  ProviderType = "fcm"
	ProviderTypeAPNs ProviderType = "apns"
)

// ProviderConfig selects and configures the push backend
type ProviderConfig struct {
	Type ProviderType
	FCM  FCMConfig
	APNs APNsConfig
}

// NewProvider creates the push provider named by cfg.Type. Unknown types fall
// back to the mock provider.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	logger.Info("Initializing push notification provider",
		zap.String("provider_type", string(cfg.Type)))

	switch cfg.Type {
	case ProviderTypeFCM:
		if cfg.FCM.ProjectID == "" {
			return nil, fmt.Errorf("FCM project id is required for FCM provider")
		}
		return NewFCMProvider(ctx, &cfg.FCM)
	case ProviderTypeAPNs:
		return NewAPNsProvider(&cfg.APNs)
	case ProviderTypeMock, "":
		return &MockProvider{}, nil
	default:
		logger.Warn("Unknown push provider type, falling back to mock",
			zap.String("provider_type", string(cfg.Type)))
		return &MockProvider{}, nil
	}
}
