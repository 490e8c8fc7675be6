package main

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cwsl/acoustictransfer/transfer/calibrate"
	"github.com/cwsl/acoustictransfer/transfer/modem"
	"github.com/cwsl/acoustictransfer/transfer/profile"
	"github.com/cwsl/acoustictransfer/transfer/session"
)

// DeviceSession is one control-surface client's acoustic link state: its
// chosen profile, its last calibration result, and at most one active
// sender and one active receiver. A device runs one sender and one
// receiver at a time, never more.
type DeviceSession struct {
	ID         string
	CreatedAt  time.Time
	LastActive time.Time

	mu       sync.RWMutex
	prof     profile.Profile
	calib    calibrate.Result
	haveCal  bool
	sender   *session.SenderSession
	receiver *session.ReceiverSession
	demod    *modem.Demodulator

	cancelSend func()
}

// Profile returns the device's currently selected profile.
func (d *DeviceSession) Profile() profile.Profile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.prof
}

// SetProfile changes the device's profile. Any calibration result becomes
// stale since carrier count may have changed.
func (d *DeviceSession) SetProfile(p profile.Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prof = p
	d.haveCal = false
	d.calib = calibrate.Result{}
}

// Calibration returns the device's last calibration result, if any.
func (d *DeviceSession) Calibration() (calibrate.Result, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.calib, d.haveCal
}

func (d *DeviceSession) setCalibration(r calibrate.Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calib = r
	d.haveCal = true
}

// StartListening creates and installs the device's receiver (and the
// Demodulator it's wired to) if none is already running. Enforces the
// one-receiver-per-device half of invariant 1.
func (d *DeviceSession) StartListening() (*session.ReceiverSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.receiver != nil {
		return nil, fmt.Errorf("session: device %s is already listening", d.ID)
	}
	if !d.haveCal {
		return nil, fmt.Errorf("session: device %s has no calibration result", d.ID)
	}
	d.demod = modem.NewDemodulator(d.prof, d.calib)
	d.receiver = session.NewReceiverSession(d.demod)
	return d.receiver, nil
}

// StopListening tears down the device's receiver.
func (d *DeviceSession) StopListening() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.receiver = nil
	d.demod = nil
}

// ActiveReceiver returns the device's running receiver, if any.
func (d *DeviceSession) ActiveReceiver() (*session.ReceiverSession, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.receiver, d.receiver != nil
}

// ActiveDemodulator returns the Demodulator backing the active receiver,
// so the control surface's raw-audio feed can be routed to it.
func (d *DeviceSession) ActiveDemodulator() (*modem.Demodulator, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.demod, d.demod != nil
}

// BeginSend installs sender as the device's active sender and records
// cancel so a later cancel_send request can stop it. Enforces the
// one-sender-per-device half of invariant 1.
func (d *DeviceSession) BeginSend(sender *session.SenderSession, cancel func()) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.sender != nil {
		return fmt.Errorf("session: device %s already has a send in progress", d.ID)
	}
	d.sender = sender
	d.cancelSend = cancel
	return nil
}

// EndSend clears the device's active sender once Send returns.
func (d *DeviceSession) EndSend() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sender = nil
	d.cancelSend = nil
}

// CancelSend cancels the device's in-flight send, if any, and reports
// whether one was active.
func (d *DeviceSession) CancelSend() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cancelSend == nil {
		return false
	}
	d.cancelSend()
	return true
}

// SessionManager tracks one DeviceSession per connected control-surface
// client, enforcing that a device has at most one sender and one receiver
// running concurrently. Devices are keyed by a uuid string behind a single
// RWMutex since creation/lookup/teardown are all short, non-blocking
// operations.
type SessionManager struct {
	mu       sync.RWMutex
	devices  map[string]*DeviceSession
	maxCount int
	timeout  time.Duration
}

// NewSessionManager builds a manager bounded to maxDevices concurrent
// devices, reaping ones idle longer than idleTimeout.
func NewSessionManager(maxDevices int, idleTimeout time.Duration) *SessionManager {
	sm := &SessionManager{
		devices:  make(map[string]*DeviceSession),
		maxCount: maxDevices,
		timeout:  idleTimeout,
	}
	go sm.cleanupLoop()
	return sm
}

// CreateDevice allocates a new DeviceSession bound to defaultProf.
func (sm *SessionManager) CreateDevice(defaultProf profile.Profile) (*DeviceSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if len(sm.devices) >= sm.maxCount {
		return nil, fmt.Errorf("session: at max device capacity (%d)", sm.maxCount)
	}

	d := &DeviceSession{
		ID:         uuid.New().String(),
		CreatedAt:  time.Now(),
		LastActive: time.Now(),
		prof:       defaultProf,
	}
	sm.devices[d.ID] = d
	return d, nil
}

// GetDevice looks up a device by ID.
func (sm *SessionManager) GetDevice(id string) (*DeviceSession, bool) {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	d, ok := sm.devices[id]
	return d, ok
}

// TouchDevice refreshes a device's idle timer.
func (sm *SessionManager) TouchDevice(id string) {
	sm.mu.RLock()
	d, ok := sm.devices[id]
	sm.mu.RUnlock()
	if !ok {
		return
	}
	d.mu.Lock()
	d.LastActive = time.Now()
	d.mu.Unlock()
}

// DestroyDevice removes a device, canceling any in-flight send.
func (sm *SessionManager) DestroyDevice(id string) {
	sm.mu.Lock()
	d, ok := sm.devices[id]
	if ok {
		delete(sm.devices, id)
	}
	sm.mu.Unlock()

	if ok {
		d.mu.Lock()
		if d.cancelSend != nil {
			d.cancelSend()
		}
		d.mu.Unlock()
	}
}

// Count reports the number of tracked devices.
func (sm *SessionManager) Count() int {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.devices)
}

func (sm *SessionManager) cleanupLoop() {
	if sm.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(sm.timeout / 2)
	defer ticker.Stop()
	for range ticker.C {
		sm.reapIdle()
	}
}

func (sm *SessionManager) reapIdle() {
	sm.mu.Lock()
	var stale []string
	for id, d := range sm.devices {
		d.mu.RLock()
		idle := time.Since(d.LastActive)
		d.mu.RUnlock()
		if idle > sm.timeout {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		delete(sm.devices, id)
	}
	sm.mu.Unlock()
}
