// Package dbus exposes a gattdb.Database as the org.bluez.GattManager1
// D-Bus interface, and implements the gattdb.PublisherBus collaborator
// against a real system bus connection.
package dbus

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
	"github.com/godbus/dbus/v5/prop"
	"github.com/sirupsen/logrus"

	"github.com/pop-os/bluez/gattdb"
)

const (
	managerInterface = "org.bluez.GattManager1"
	serviceInterface = "org.bluez.GattService1"
	charInterface    = "org.bluez.GattCharacteristic1"
	descInterface    = "org.bluez.GattDescriptor1"
	objectManagerIface = "org.freedesktop.DBus.ObjectManager"
)

// Registrar is the subset of gattdb.ExternalServiceRegistry (a
// gattdb.Database's Ext field) the D-Bus export needs.
type Registrar interface {
	RegisterService(ctx context.Context, publisherID, objectPath string) error
	UnregisterService(publisherID, objectPath string) error
}

// Manager exports org.bluez.GattManager1 on conn at path, forwarding
// RegisterService/UnregisterService calls to a Registrar.
type Manager struct {
	conn *dbus.Conn
	path dbus.ObjectPath
	reg  Registrar
	log  *logrus.Entry
}

// NewManager exports the interface and returns once it is live on the
// bus. path is typically an adapter path such as /org/bluez/hci0.
func NewManager(conn *dbus.Conn, path dbus.ObjectPath, reg Registrar, log *logrus.Entry) (*Manager, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	m := &Manager{conn: conn, path: path, reg: reg, log: log.WithField("component", "dbus.gattmanager")}

	if err := conn.Export(m, path, managerInterface); err != nil {
		return nil, fmt.Errorf("gattdb/dbus: exporting %s: %w", managerInterface, err)
	}

	node := &introspect.Node{
		Name: string(path),
		Interfaces: []introspect.Interface{
			introspect.IntrospectData,
			prop.IntrospectData,
			{
				Name: managerInterface,
				Methods: []introspect.Method{
					{Name: "RegisterService", Args: []introspect.Arg{
						{Name: "service", Type: "o", Direction: "in"},
						{Name: "options", Type: "a{sv}", Direction: "in"},
					}},
					{Name: "UnregisterService", Args: []introspect.Arg{
						{Name: "service", Type: "o", Direction: "in"},
					}},
				},
			},
		},
	}
	if err := conn.Export(introspect.NewIntrospectable(node), path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return nil, fmt.Errorf("gattdb/dbus: exporting introspection: %w", err)
	}

	return m, nil
}

// RegisterService is the org.bluez.GattManager1 D-Bus method.
func (m *Manager) RegisterService(service dbus.ObjectPath, options map[string]dbus.Variant, sender dbus.Sender) *dbus.Error {
	if err := m.reg.RegisterService(context.Background(), string(sender), string(service)); err != nil {
		return asDBusError(err)
	}
	return nil
}

// UnregisterService is the org.bluez.GattManager1 D-Bus method.
func (m *Manager) UnregisterService(service dbus.ObjectPath, sender dbus.Sender) *dbus.Error {
	if err := m.reg.UnregisterService(string(sender), string(service)); err != nil {
		return asDBusError(err)
	}
	return nil
}

func asDBusError(err error) *dbus.Error {
	regErr, ok := err.(*gattdb.RegistrationError)
	if !ok {
		return dbus.NewError("org.bluez.Error.Failed", []interface{}{err.Error()})
	}
	switch regErr.Kind {
	case gattdb.InvalidArgs:
		return dbus.NewError("org.bluez.Error.InvalidArguments", []interface{}{regErr.Message})
	case gattdb.AlreadyExists:
		return dbus.NewError("org.bluez.Error.AlreadyExists", []interface{}{regErr.Message})
	default:
		return dbus.NewError("org.bluez.Error.Failed", []interface{}{regErr.Message})
	}
}

// PublisherBus is the production gattdb.PublisherBus, backed by a
// system bus connection shared with Manager.
type PublisherBus struct {
	conn *dbus.Conn
	log  *logrus.Entry
}

// NewPublisherBus wraps conn for use as a gattdb.PublisherBus.
func NewPublisherBus(conn *dbus.Conn, log *logrus.Entry) *PublisherBus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &PublisherBus{conn: conn, log: log.WithField("component", "dbus.publisherbus")}
}

type managedObjects map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// Enumerate walks publisherID's object tree via its ObjectManager,
// rooted at objectPath, and decodes every GattService1/
// GattCharacteristic1/GattDescriptor1 descendant into a gattdb.ExternalObjectTree.
func (b *PublisherBus) Enumerate(ctx context.Context, publisherID, objectPath string) (gattdb.ExternalObjectTree, error) {
	obj := b.conn.Object(publisherID, dbus.ObjectPath(objectPath))
	var objects managedObjects
	call := obj.CallWithContext(ctx, objectManagerIface+".GetManagedObjects", 0)
	if err := call.Store(&objects); err != nil {
		return gattdb.ExternalObjectTree{}, fmt.Errorf("GetManagedObjects: %w", err)
	}

	var svcPaths []dbus.ObjectPath
	for p, ifaces := range objects {
		if _, ok := ifaces[serviceInterface]; ok && isUnder(p, objectPath) {
			svcPaths = append(svcPaths, p)
		}
	}
	sort.Slice(svcPaths, func(i, j int) bool { return svcPaths[i] < svcPaths[j] })

	var tree gattdb.ExternalObjectTree
	for _, sp := range svcPaths {
		svcProps := objects[sp][serviceInterface]
		uuidStr, _ := svcProps["UUID"].Value().(string)
		uuid, err := gattdb.ParseUUID(uuidStr)
		if err != nil {
			return gattdb.ExternalObjectTree{}, fmt.Errorf("service %s: %w", sp, err)
		}
		primary, _ := svcProps["Primary"].Value().(bool)

		node := gattdb.ExternalServiceNode{ObjectPath: string(sp), UUID: uuid, Primary: primary}

		var charPaths []dbus.ObjectPath
		for p, ifaces := range objects {
			if _, ok := ifaces[charInterface]; ok && isUnder(p, string(sp)) {
				charPaths = append(charPaths, p)
			}
		}
		sort.Slice(charPaths, func(i, j int) bool { return charPaths[i] < charPaths[j] })

		for _, cp := range charPaths {
			chProps := objects[cp][charInterface]
			chUUID, err := gattdb.ParseUUID(asString(chProps["UUID"]))
			if err != nil {
				return gattdb.ExternalObjectTree{}, fmt.Errorf("characteristic %s: %w", cp, err)
			}
			chNode := gattdb.ExternalCharNode{
				ObjectPath: string(cp),
				UUID:       chUUID,
				Props:      decodeCharFlags(chProps["Flags"]),
				ReadWriter: &remoteAttribute{conn: b.conn, dest: publisherID, path: cp, iface: charInterface},
			}

			var descPaths []dbus.ObjectPath
			for p, ifaces := range objects {
				if _, ok := ifaces[descInterface]; ok && isUnder(p, string(cp)) {
					descPaths = append(descPaths, p)
				}
			}
			sort.Slice(descPaths, func(i, j int) bool { return descPaths[i] < descPaths[j] })

			for _, dp := range descPaths {
				dProps := objects[dp][descInterface]
				dUUID, err := gattdb.ParseUUID(asString(dProps["UUID"]))
				if err != nil {
					return gattdb.ExternalObjectTree{}, fmt.Errorf("descriptor %s: %w", dp, err)
				}
				chNode.Descriptors = append(chNode.Descriptors, gattdb.ExternalDescNode{
					ObjectPath: string(dp),
					UUID:       dUUID,
					Perms:      decodeDescFlags(dProps["Flags"]),
					ReadWriter: &remoteAttribute{conn: b.conn, dest: publisherID, path: dp, iface: descInterface},
				})
			}

			node.Characteristics = append(node.Characteristics, chNode)
		}

		tree.Services = append(tree.Services, node)
	}

	return tree, nil
}

// WatchDisconnect arranges for onGone to run the first time publisherID
// drops its bus name or removes a GattService1 object at or under
// objectPath from its tree.
func (b *PublisherBus) WatchDisconnect(publisherID, objectPath string, onGone func()) func() {
	rule := fmt.Sprintf("type='signal',interface='org.freedesktop.DBus',member='NameOwnerChanged',arg0='%s'", publisherID)
	if err := b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		b.log.WithError(err).Warn("failed to add NameOwnerChanged match")
	}
	removedRule := fmt.Sprintf("type='signal',sender='%s',interface='%s',member='InterfacesRemoved'", publisherID, objectManagerIface)
	if err := b.conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, removedRule).Err; err != nil {
		b.log.WithError(err).Warn("failed to add InterfacesRemoved match")
	}

	ch := make(chan *dbus.Signal, 8)
	b.conn.Signal(ch)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case sig, ok := <-ch:
				if !ok {
					return
				}
				switch {
				case sig.Name == "org.freedesktop.DBus.NameOwnerChanged" && len(sig.Body) == 3:
					name, _ := sig.Body[0].(string)
					newOwner, _ := sig.Body[2].(string)
					if name == publisherID && newOwner == "" {
						onGone()
						return
					}
				case sig.Name == objectManagerIface+".InterfacesRemoved" && len(sig.Body) == 2 && sig.Sender == publisherID:
					removed, _ := sig.Body[0].(dbus.ObjectPath)
					ifaces, _ := sig.Body[1].([]string)
					for _, iface := range ifaces {
						if iface == serviceInterface && isUnder(removed, objectPath) {
							onGone()
							return
						}
					}
				}
			}
		}
	}()

	return func() {
		close(done)
		b.conn.RemoveSignal(ch)
		b.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)
		b.conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, removedRule)
	}
}

func isUnder(path dbus.ObjectPath, root string) bool {
	s := string(path)
	return s == root || strings.HasPrefix(s, root+"/")
}

func asString(v dbus.Variant) string {
	s, _ := v.Value().(string)
	return s
}

func decodeCharFlags(v dbus.Variant) gattdb.Properties {
	flags, _ := v.Value().([]string)
	var p gattdb.Properties
	for _, f := range flags {
		switch f {
		case "read":
			p.Read = true
		case "write":
			p.Write = true
		case "write-without-response":
			p.WriteCmd = true
		case "notify":
			p.Notify = true
		case "indicate":
			p.Indicate = true
		}
	}
	return p
}

func decodeDescFlags(v dbus.Variant) gattdb.Permissions {
	flags, _ := v.Value().([]string)
	var p gattdb.Permissions
	for _, f := range flags {
		switch f {
		case "read":
			p.Read = true
		case "write":
			p.Write = true
		case "encrypt-read", "encrypt-authenticated-read":
			p.ReadSecure = true
		case "encrypt-write", "encrypt-authenticated-write":
			p.WriteSecure = true
		}
	}
	return p
}

// remoteAttribute implements gattdb.ExternalAttributeIO by calling
// ReadValue/WriteValue on a remote GattCharacteristic1/GattDescriptor1
// object, the other half of the bridge gattdb.ExternalServiceRegistry
// builds in its bridgeIO helper.
type remoteAttribute struct {
	conn  *dbus.Conn
	dest  string
	path  dbus.ObjectPath
	iface string
}

func (r *remoteAttribute) ReadValue(ctx context.Context, offset int) ([]byte, error) {
	obj := r.conn.Object(r.dest, r.path)
	opts := map[string]dbus.Variant{"offset": dbus.MakeVariant(uint16(offset))}
	var value []byte
	err := obj.CallWithContext(ctx, r.iface+".ReadValue", 0, opts).Store(&value)
	return value, err
}

func (r *remoteAttribute) WriteValue(ctx context.Context, offset int, value []byte) error {
	obj := r.conn.Object(r.dest, r.path)
	opts := map[string]dbus.Variant{"offset": dbus.MakeVariant(uint16(offset))}
	return obj.CallWithContext(ctx, r.iface+".WriteValue", 0, value, opts).Err
}
