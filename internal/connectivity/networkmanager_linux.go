//go:build linux

package connectivity

import (
	"context"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
)

const (
	nmService   = "org.freedesktop.NetworkManager"
	nmPath      = "/org/freedesktop/NetworkManager"
	nmInterface = "org.freedesktop.NetworkManager"

	// NM_STATE_CONNECTED_SITE; states at or above this have usable
	// network reachability.
	nmStateConnectedSite uint32 = 60
)

// NetworkManager reads connectivity from the NetworkManager daemon over
// the system D-Bus and follows its StateChanged signal.
type NetworkManager struct {
	conn *dbus.Conn
	obj  dbus.BusObject

	mu     sync.Mutex
	subs   map[int]func(bool)
	nextID int
	online bool
	known  bool

	signals chan *dbus.Signal
	done    chan struct{}
}

// NewNetworkManager connects to the system bus and starts following
// NetworkManager state changes.
func NewNetworkManager() (*NetworkManager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	nm := &NetworkManager{
		conn:    conn,
		obj:     conn.Object(nmService, dbus.ObjectPath(nmPath)),
		subs:    make(map[int]func(bool)),
		signals: make(chan *dbus.Signal, 16),
		done:    make(chan struct{}),
	}

	if err := conn.AddMatchSignal(
		dbus.WithMatchInterface(nmInterface),
		dbus.WithMatchMember("StateChanged"),
	); err != nil {
		return nil, fmt.Errorf("subscribe StateChanged: %w", err)
	}

	conn.Signal(nm.signals)
	go nm.followSignals()

	return nm, nil
}

// IsOnline queries NetworkManager's State property point-in-time.
func (nm *NetworkManager) IsOnline(ctx context.Context) bool {
	variant, err := nm.obj.GetProperty(nmInterface + ".State")
	if err != nil {
		// Treat an unreachable NetworkManager as offline rather than
		// guessing.
		return false
	}

	state, ok := variant.Value().(uint32)
	if !ok {
		return false
	}

	online := state >= nmStateConnectedSite
	nm.recordState(online)
	return online
}

// OnChange registers a transition callback.
func (nm *NetworkManager) OnChange(callback func(bool)) (func(), error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	id := nm.nextID
	nm.nextID++
	nm.subs[id] = callback

	return func() {
		nm.mu.Lock()
		defer nm.mu.Unlock()
		delete(nm.subs, id)
	}, nil
}

// Close stops following signals and releases the bus connection.
func (nm *NetworkManager) Close() error {
	close(nm.done)
	nm.conn.RemoveSignal(nm.signals)
	return nm.conn.Close()
}

func (nm *NetworkManager) followSignals() {
	for {
		select {
		case <-nm.done:
			return
		case sig, ok := <-nm.signals:
			if !ok {
				return
			}
			if sig.Name != nmInterface+".StateChanged" || len(sig.Body) == 0 {
				continue
			}
			state, ok := sig.Body[0].(uint32)
			if !ok {
				continue
			}
			nm.recordState(state >= nmStateConnectedSite)
		}
	}
}

// recordState notifies subscribers when the online state transitions.
func (nm *NetworkManager) recordState(online bool) {
	nm.mu.Lock()
	changed := !nm.known || nm.online != online
	nm.online = online
	nm.known = true
	subs := make([]func(bool), 0, len(nm.subs))
	for _, cb := range nm.subs {
		subs = append(subs, cb)
	}
	nm.mu.Unlock()

	if !changed {
		return
	}
	for _, cb := range subs {
		cb(online)
	}
}
