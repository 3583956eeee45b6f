package mocks

//go:generate mockgen -destination=./mock_provider.go -package=mocks github.com/atlas-desktop/signal-engine/internal/sentiment Provider
