package notify

import (
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	busName    = "org.freedesktop.Notifications"
	objectPath = dbus.ObjectPath("/org/freedesktop/Notifications")
	notifyCall = busName + ".Notify"
)

// DBusSender posts notifications through org.freedesktop.Notifications on
// the session bus.
type DBusSender struct {
	conn    *dbus.Conn
	obj     dbus.BusObject
	appName string
	icon    string
}

// DialSession connects to the session bus. The connection is private so
// Close does not affect other users of the shared bus.
func DialSession(appName string) (*DBusSender, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("notify: connect session bus: %w", err)
	}
	return &DBusSender{
		conn:    conn,
		obj:     conn.Object(busName, objectPath),
		appName: appName,
		icon:    "input-keyboard",
	}, nil
}

// Send implements Sender.
func (s *DBusSender) Send(n Notification) (uint32, error) {
	hints := map[string]dbus.Variant{
		"urgency":   dbus.MakeVariant(byte(0)),
		"transient": dbus.MakeVariant(true),
	}
	call := s.obj.Call(notifyCall, 0,
		s.appName,
		n.ReplacesID,
		s.icon,
		n.Summary,
		n.Body,
		[]string{},
		hints,
		n.TimeoutMs,
	)
	if call.Err != nil {
		return 0, fmt.Errorf("notify: %w", call.Err)
	}
	var id uint32
	if err := call.Store(&id); err != nil {
		return 0, fmt.Errorf("notify: decode reply: %w", err)
	}
	return id, nil
}

// Close implements Sender.
func (s *DBusSender) Close() error {
	return s.conn.Close()
}
