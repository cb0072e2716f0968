package gattdb

import "github.com/sirupsen/logrus"

// config collects Database's construction-time dependencies. Only
// Engine is mandatory; everything else has a usable default, following
// the functional-options shape the rest of the ecosystem uses for
// adapter/device configuration.
type config struct {
	log    *logrus.Logger
	info   DeviceInfo
	sdp    SDPPublisher
	bus    PublisherBus
	sched  Scheduler
	engine ServerEngine
}

// Option configures a Database at construction time.
type Option func(*config)

// WithLogger overrides the default logrus.Logger. Components tag their
// own entries with a "component" field; callers typically configure
// level and formatter here rather than per-component.
func WithLogger(log *logrus.Logger) Option {
	return func(c *config) { c.log = log }
}

// WithDeviceInfo sets the name and appearance the GAP service reports.
func WithDeviceInfo(info DeviceInfo) Option {
	return func(c *config) { c.info = info }
}

// WithSDPPublisher supplies the BR/EDR SDP record publisher for core
// services. Defaults to NopSDPPublisher.
func WithSDPPublisher(sdp SDPPublisher) Option {
	return func(c *config) { c.sdp = sdp }
}

// WithPublisherBus supplies the D-Bus-shaped collaborator
// ExternalServiceRegistry uses to enumerate and watch app-published
// object trees. Required for RegisterService to do anything useful:
// without it, New installs a bus on which every RegisterService call
// fails, so the Database only ever serves core services.
func WithPublisherBus(bus PublisherBus) Option {
	return func(c *config) { c.bus = bus }
}

// WithScheduler overrides the default InlineScheduler. Production
// daemons should supply a scheduler tied to their real event loop so
// deferred teardown actually waits a turn; InlineScheduler is only
// appropriate for tests.
func WithScheduler(sched Scheduler) Option {
	return func(c *config) { c.sched = sched }
}

// WithServerEngine supplies the ATT protocol engine Database notifies
// through. This is the one required option: without it, Database has
// no way to deliver notifications or indications to peers.
func WithServerEngine(engine ServerEngine) Option {
	return func(c *config) { c.engine = engine }
}

func defaultConfig() *config {
	return &config{
		log:   logrus.StandardLogger(),
		sdp:   NopSDPPublisher{},
		sched: InlineScheduler{},
		info:  DeviceInfo{Name: "gattdb", Appearance: 0},
	}
}
