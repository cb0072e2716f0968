// Command gattdbd wires a gattdb.Database to the system bus and
// exposes org.bluez.GattManager1 on an adapter path (-adapter, default
// /org/bluez/hci0), the way a
// real adapter daemon would. It is not a full ATT server: the
// ServerEngine it installs only logs notifications and indications,
// since driving real L2CAP sockets is the ATT/L2CAP stack's job, out
// of gattdb's scope.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	godbus "github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"

	"github.com/pop-os/bluez/gattdb"
	gattdbus "github.com/pop-os/bluez/gattdb/dbus"
)

func main() {
	adapterPath := flag.String("adapter", "/org/bluez/hci0", "adapter object path to export GattManager1 on")
	deviceName := flag.String("name", "gattdbd", "GAP device name")
	flag.Parse()

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	conn, err := godbus.SystemBus()
	if err != nil {
		log.Fatalf("connecting to system bus: %v", err)
	}
	defer conn.Close()

	engine := &loggingEngine{log: logrus.NewEntry(logger).WithField("component", "engine")}

	db, err := gattdb.New(context.Background(),
		gattdb.WithLogger(logger),
		gattdb.WithDeviceInfo(gattdb.DeviceInfo{Name: *deviceName, Appearance: 0}),
		gattdb.WithServerEngine(engine),
		gattdb.WithPublisherBus(gattdbus.NewPublisherBus(conn, logrus.NewEntry(logger))),
		gattdb.WithScheduler(gattdb.InlineScheduler{}),
	)
	if err != nil {
		log.Fatalf("building database: %v", err)
	}
	defer db.Close()

	if _, err := gattdbus.NewManager(conn, godbus.ObjectPath(*adapterPath), db.Ext, logrus.NewEntry(logger)); err != nil {
		log.Fatalf("exporting GattManager1: %v", err)
	}

	reply, err := conn.RequestName("org.bluez.gattdb", godbus.NameFlagDoNotQueue)
	if err != nil {
		log.Fatalf("requesting bus name: %v", err)
	}
	if reply != godbus.RequestNameReplyPrimaryOwner {
		log.Fatalf("bus name org.bluez.gattdb already taken")
	}

	logger.WithField("adapter", *adapterPath).Info("gattdbd running")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}

// loggingEngine is a placeholder ServerEngine: real ATT delivery needs
// a connected L2CAP socket per peer, which this daemon doesn't open.
type loggingEngine struct {
	log *logrus.Entry
}

func (e *loggingEngine) Mtu(peer gattdb.PeerKey) uint16 { return 23 }

func (e *loggingEngine) Notify(peer gattdb.PeerKey, handle uint16, value []byte) error {
	e.log.WithFields(logrus.Fields{"peer": peer, "handle": handle}).Debug("notify")
	return nil
}

func (e *loggingEngine) Indicate(peer gattdb.PeerKey, handle uint16, value []byte, confirmed func(error)) {
	e.log.WithFields(logrus.Fields{"peer": peer, "handle": handle}).Debug("indicate")
	if confirmed != nil {
		confirmed(nil)
	}
}
