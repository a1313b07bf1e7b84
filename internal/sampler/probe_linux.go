//go:build linux

package sampler

import (
	"context"
	"errors"
	"fmt"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
)

// x11Probe reads _NET_ACTIVE_WINDOW from the root window and the owning
// pid from the window's _NET_WM_PID property.
type x11Probe struct {
	conn         *xgb.Conn
	root         xproto.Window
	activeWindow xproto.Atom
	wmPID        xproto.Atom
}

// NewProbe connects to the X server named by $DISPLAY.
func NewProbe() (Probe, error) {
	conn, err := xgb.NewConn()
	if err != nil {
		return nil, fmt.Errorf("connect to X display: %w", err)
	}

	p := &x11Probe{
		conn: conn,
		root: xproto.Setup(conn).DefaultScreen(conn).Root,
	}

	if p.activeWindow, err = p.atom("_NET_ACTIVE_WINDOW"); err != nil {
		conn.Close()
		return nil, err
	}
	if p.wmPID, err = p.atom("_NET_WM_PID"); err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

func (p *x11Probe) atom(name string) (xproto.Atom, error) {
	reply, err := xproto.InternAtom(p.conn, false, uint16(len(name)), name).Reply()
	if err != nil {
		return 0, fmt.Errorf("intern atom %s: %w", name, err)
	}
	return reply.Atom, nil
}

func (p *x11Probe) Foreground(ctx context.Context) (RawProcess, error) {
	active, err := xproto.GetProperty(p.conn, false, p.root, p.activeWindow, xproto.AtomWindow, 0, 1).Reply()
	if err != nil {
		return RawProcess{}, fmt.Errorf("read _NET_ACTIVE_WINDOW: %w", err)
	}
	if active.ValueLen == 0 {
		return RawProcess{}, fmt.Errorf("%w: no active window", ErrTransient)
	}
	win := xproto.Window(xgb.Get32(active.Value))
	if win == 0 {
		return RawProcess{}, fmt.Errorf("%w: no active window", ErrTransient)
	}

	pidReply, err := xproto.GetProperty(p.conn, false, win, p.wmPID, xproto.AtomCardinal, 0, 1).Reply()
	if err != nil {
		var badWindow xproto.WindowError
		if errors.As(err, &badWindow) {
			return RawProcess{}, fmt.Errorf("%w: window %d went away", ErrTransient, win)
		}
		return RawProcess{}, fmt.Errorf("read _NET_WM_PID: %w", err)
	}
	if pidReply.ValueLen == 0 {
		return RawProcess{}, fmt.Errorf("%w: window %d has no pid", ErrTransient, win)
	}

	return resolveProcess(ctx, int32(xgb.Get32(pidReply.Value)))
}

func (p *x11Probe) Close() error {
	p.conn.Close()
	return nil
}
