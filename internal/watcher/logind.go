package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/godbus/dbus/v5"
)

const (
	logindDest       = "org.freedesktop.login1"
	logindPath       = dbus.ObjectPath("/org/freedesktop/login1")
	logindManager    = "org.freedesktop.login1.Manager"
	logindSession    = "org.freedesktop.login1.Session"
	propertiesGetAll = "org.freedesktop.DBus.Properties.GetAll"
)

// ErrNoSession is returned when no logind session belongs to the current
// user.
var ErrNoSession = errors.New("no logind session for current uid")

// PropsReader reads the idle properties of one session.
type PropsReader interface {
	SessionID() string
	ReadProps(ctx context.Context) (SessionProps, error)
}

// Logind reads session properties from systemd-logind over the system bus.
type Logind struct {
	conn *dbus.Conn
	id   string
	path dbus.ObjectPath
}

// sessionEntry is one element of Manager.ListSessions, signature (susso).
type sessionEntry struct {
	ID   string
	UID  uint32
	User string
	Seat string
	Path dbus.ObjectPath
}

// ConnectLogind connects to the system bus and resolves sessionID. An empty
// sessionID uses $XDG_SESSION_ID, then the last session owned by the
// current uid.
func ConnectLogind(ctx context.Context, sessionID string) (*Logind, error) {
	conn, err := dbus.ConnectSystemBus(dbus.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}

	l, err := newLogind(ctx, conn, sessionID)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return l, nil
}

func newLogind(ctx context.Context, conn *dbus.Conn, sessionID string) (*Logind, error) {
	manager := conn.Object(logindDest, logindPath)

	if sessionID == "" {
		sessionID = strings.TrimSpace(os.Getenv("XDG_SESSION_ID"))
	}
	if sessionID == "" {
		var sessions []sessionEntry
		if err := manager.CallWithContext(ctx, logindManager+".ListSessions", 0).Store(&sessions); err != nil {
			return nil, fmt.Errorf("list sessions: %w", err)
		}
		id, path, ok := pickSession(sessions, uint32(os.Getuid()))
		if !ok {
			return nil, ErrNoSession
		}
		return &Logind{conn: conn, id: id, path: path}, nil
	}

	var path dbus.ObjectPath
	if err := manager.CallWithContext(ctx, logindManager+".GetSession", 0, sessionID).Store(&path); err != nil {
		return nil, fmt.Errorf("get session %s: %w", sessionID, err)
	}
	return &Logind{conn: conn, id: sessionID, path: path}, nil
}

// pickSession returns the last session owned by uid.
func pickSession(sessions []sessionEntry, uid uint32) (string, dbus.ObjectPath, bool) {
	var id string
	var path dbus.ObjectPath
	found := false
	for _, s := range sessions {
		if s.UID == uid {
			id, path, found = s.ID, s.Path, true
		}
	}
	return id, path, found
}

// SessionID returns the resolved session ID.
func (l *Logind) SessionID() string {
	return l.id
}

// ReadProps fetches the session's idle and lock hints.
func (l *Logind) ReadProps(ctx context.Context) (SessionProps, error) {
	var props map[string]dbus.Variant
	err := l.conn.Object(logindDest, l.path).
		CallWithContext(ctx, propertiesGetAll, 0, logindSession).
		Store(&props)
	if err != nil {
		return SessionProps{}, fmt.Errorf("read session %s properties: %w", l.id, err)
	}
	return parseProps(props), nil
}

// Close releases the bus connection.
func (l *Logind) Close() error {
	return l.conn.Close()
}

func parseProps(props map[string]dbus.Variant) SessionProps {
	var p SessionProps
	if v, ok := props["LockedHint"].Value().(bool); ok {
		p.LockedHint = v
	}
	if v, ok := props["IdleHint"].Value().(bool); ok {
		p.IdleHint = v
	}
	if v, ok := props["IdleSinceHint"].Value().(uint64); ok {
		p.IdleSinceHint = v
	}
	if v, ok := props["IdleSinceHintMonotonic"].Value().(uint64); ok {
		p.IdleSinceHintMonotonic = v
		p.HasMonotonic = true
	}
	return p
}
