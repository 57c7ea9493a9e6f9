//go:build !linux

package connectivity

import (
	"context"
	"errors"
)

// NetworkManager is only available on Linux.
type NetworkManager struct{}

// NewNetworkManager reports that no NetworkManager source exists on this
// platform; callers fall back to the prober.
func NewNetworkManager() (*NetworkManager, error) {
	return nil, errors.New("networkmanager connectivity source requires linux")
}

// IsOnline satisfies Checker; never reachable off Linux.
func (nm *NetworkManager) IsOnline(ctx context.Context) bool { return false }

// OnChange satisfies Checker; never reachable off Linux.
func (nm *NetworkManager) OnChange(callback func(bool)) (func(), error) {
	return nil, errors.New("networkmanager connectivity source requires linux")
}

// Close satisfies the Linux API surface.
func (nm *NetworkManager) Close() error { return nil }
