//go:build linux

package sampler

import (
	"context"
	"fmt"
	"os"

	"github.com/godbus/dbus/v5"
)

const (
	login1Service = "org.freedesktop.login1"
	login1Path    = "/org/freedesktop/login1"
)

// logindLocks reads the LockedHint of the caller's logind session.
type logindLocks struct {
	conn    *dbus.Conn
	session dbus.BusObject
}

// NewLockDetector finds the current logind session, preferring
// $XDG_SESSION_ID and falling back to the session owning this process.
func NewLockDetector() (LockDetector, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect to system bus: %w", err)
	}

	manager := conn.Object(login1Service, dbus.ObjectPath(login1Path))

	var path dbus.ObjectPath
	if id := os.Getenv("XDG_SESSION_ID"); id != "" {
		err = manager.Call("org.freedesktop.login1.Manager.GetSession", 0, id).Store(&path)
	} else {
		err = manager.Call("org.freedesktop.login1.Manager.GetSessionByPID", 0, uint32(os.Getpid())).Store(&path)
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("find logind session: %w", err)
	}

	return &logindLocks{
		conn:    conn,
		session: conn.Object(login1Service, path),
	}, nil
}

func (l *logindLocks) Locked(ctx context.Context) (bool, error) {
	var locked dbus.Variant
	call := l.session.CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0,
		"org.freedesktop.login1.Session", "LockedHint")
	if call.Err != nil {
		return false, fmt.Errorf("get LockedHint: %w", call.Err)
	}
	if err := call.Store(&locked); err != nil {
		return false, fmt.Errorf("parse LockedHint: %w", err)
	}
	value, ok := locked.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected LockedHint type %T", locked.Value())
	}
	return value, nil
}

func (l *logindLocks) Close() error {
	return l.conn.Close()
}
