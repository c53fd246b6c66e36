// Package node assembles a fully wired CANopen device: an object dictionary
// plus every protocol service (SDO server/client, PDO, NMT, heartbeat,
// SYNC, TIME, EMCY) registered against one network.Network. Not itself a
// named component of the communication stack, but required to have a
// runnable device rather than a pile of disconnected packages.
package node

import (
	"errors"
	"time"

	"github.com/canopen-go/canopen/pkg/emergency"
	"github.com/canopen-go/canopen/pkg/heartbeat"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/canopen-go/canopen/pkg/nmt"
	"github.com/canopen-go/canopen/pkg/od"
	"github.com/canopen-go/canopen/pkg/pdo"
	"github.com/canopen-go/canopen/pkg/sdo"
	"github.com/canopen-go/canopen/pkg/sync"
	"github.com/canopen-go/canopen/pkg/timesync"
	"github.com/sirupsen/logrus"
)

// NodeIDUnassigned marks a device whose node-id has not yet been set by LSS
// or manual configuration.
const NodeIDUnassigned uint8 = 255

// BitRate names one entry of the CiA-301 supported-bit-rate bitset (§6.5).
type BitRate uint8

const (
	BitRate10k BitRate = iota
	BitRate20k
	BitRate50k
	BitRate125k
	BitRate250k
	BitRate500k
	BitRate800k
	BitRate1M
)

// bitRateKbps maps a BitRate index to its value in kbit/s, for display and
// frame-timing calculations.
var bitRateKbps = map[BitRate]int{
	BitRate10k:  10,
	BitRate20k:  20,
	BitRate50k:  50,
	BitRate125k: 125,
	BitRate250k: 250,
	BitRate500k: 500,
	BitRate800k: 800,
	BitRate1M:   1000,
}

// Kbps returns the bit rate's value in kbit/s.
func (b BitRate) Kbps() int { return bitRateKbps[b] }

// Identity holds a device's static CiA-301 object-0x1018 identity fields.
type Identity struct {
	VendorID     uint32
	ProductCode  uint32
	RevisionNo   uint32
	SerialNo     uint32
}

var errIllegalNodeID = errors.New("node: node-id must be 1..127 or 255 (unassigned)")

// TPDOConfig configures one TPDO at device assembly time; COBID 0 derives
// the CiA-301 default for index (0x180+0x100*index + node-id, index 0..3).
type TPDOConfig struct {
	Index            int
	COBID            uint32
	TransmissionType byte
	Mapping          []uint32
}

// RPDOConfig configures one RPDO at device assembly time; COBID 0 derives
// the CiA-301 default for index (0x200+0x100*index + node-id, index 0..3).
type RPDOConfig struct {
	Index   int
	COBID   uint32
	Mapping []uint32
}

// Config assembles a Device: the object dictionary plus per-service options.
// Zero-valued COB-ID fields fall back to the §6.3 defaults derived from
// NodeID.
type Config struct {
	NodeID   uint8
	Identity Identity

	SupportedBitRates map[BitRate]bool
	DummyTypes        map[od.DataType]bool

	SDOServerTimeoutMs uint32
	SDOClientTimeoutMs uint32

	HeartbeatProducerMs uint16
	StartInOperational  bool

	SyncEnabled bool
	SyncCOBID   uint32
	SyncPeriod  uint32 // microseconds, mirrors object 0x1006

	TimeEnabled bool
	TimeCOBID   uint32
	TimePeriod  uint32 // milliseconds, 0 = receive-only consumer

	TPDOs []TPDOConfig
	RPDOs []RPDOConfig

	// HeartbeatConsumers monitors a set of remote nodes for timeout,
	// mirroring object 0x1016.
	HeartbeatConsumers map[uint8]uint32 // node-id -> timeout ms
}

// Device is one fully assembled CANopen node: an object dictionary and
// every protocol service wired against a single network.Network.
type Device struct {
	log *logrus.Entry

	NodeID   uint8
	Identity Identity

	supportedBitRates map[BitRate]bool
	dummyTypes        map[od.DataType]bool

	Dict *od.ObjectDictionary
	Net  *network.Network

	NMT        *nmt.NMT
	EMCY       *emergency.Producer
	EMCYRecv   *emergency.Consumer
	SDOServer  *sdo.Server
	SDOClient  *sdo.Client
	Sync       *sync.Producer
	SyncRecv   *sync.Consumer
	Time       *timesync.Producer
	TimeRecv   *timesync.Consumer
	Heartbeats []*heartbeat.Consumer

	TPDOs []*pdo.TPDO
	RPDOs []*pdo.RPDO
}

// New constructs a Device against net and dict, wiring every service named
// in cfg. An invalid node-id or PDO mapping record yields an error.
func New(net *network.Network, dict *od.ObjectDictionary, cfg Config) (*Device, error) {
	if cfg.NodeID == 0 || (cfg.NodeID > 127 && cfg.NodeID != NodeIDUnassigned) {
		return nil, errIllegalNodeID
	}

	d := &Device{
		log:               logrus.WithField("component", "node"),
		NodeID:            cfg.NodeID,
		Identity:          cfg.Identity,
		supportedBitRates: cfg.SupportedBitRates,
		dummyTypes:        cfg.DummyTypes,
		Dict:              dict,
		Net:               net,
	}

	if cfg.NodeID == NodeIDUnassigned {
		d.log.Warn("node-id unassigned, only LSS-class services should be active")
		return d, nil
	}

	id32 := uint32(cfg.NodeID)

	d.EMCY = emergency.NewProducer(net, 0x080+id32)
	d.EMCYRecv = emergency.NewConsumer(net, func(nodeID uint8, code emergency.Code, register emergency.Register, mfg [5]byte) {
		d.log.WithFields(logrus.Fields{"node": nodeID, "code": code}).Debug("EMCY observed")
	})

	d.NMT = nmt.New(net, nmt.Options{
		NodeID:              cfg.NodeID,
		HeartbeatProducerMs: cfg.HeartbeatProducerMs,
		StartInOperational:  cfg.StartInOperational,
	})

	d.SDOServer = sdo.NewServer(net, dict, sdo.ServerOptions{
		NodeID:  cfg.NodeID,
		RxCOBID: 0x600 + id32,
		TxCOBID: 0x580 + id32,
		Timeout: msToDuration(cfg.SDOServerTimeoutMs),
	})
	d.SDOClient = sdo.NewClient(net, sdo.ClientOptions{
		NodeID:  cfg.NodeID,
		TxCOBID: 0x600 + id32,
		RxCOBID: 0x580 + id32,
		Timeout: msToDuration(cfg.SDOClientTimeoutMs),
	})

	if cfg.SyncEnabled {
		cobID := cfg.SyncCOBID
		d.Sync = sync.NewProducer(net, sync.Options{COBID: cobID, Period: usToDuration(cfg.SyncPeriod)})
		d.Sync.Start()
	}
	d.SyncRecv = sync.NewConsumer(net, cfg.SyncCOBID, d.onSync)

	if cfg.TimeEnabled {
		if cfg.TimePeriod > 0 {
			d.Time = timesync.NewProducer(net, timesync.Options{COBID: cfg.TimeCOBID, Period: msToDuration(uint32(cfg.TimePeriod))})
			d.Time.Start()
		}
		d.TimeRecv = timesync.NewConsumer(net, cfg.TimeCOBID, nil)
	}

	for nodeID, timeoutMs := range cfg.HeartbeatConsumers {
		hc := heartbeat.NewConsumer(net, nodeID, msToDuration(timeoutMs), d.onHeartbeatEvent)
		d.Heartbeats = append(d.Heartbeats, hc)
	}

	if err := d.initPDOs(cfg); err != nil {
		return nil, err
	}

	d.NMT.Start()
	return d, nil
}

func (d *Device) initPDOs(cfg Config) error {
	for _, tc := range cfg.TPDOs {
		cobID := tc.COBID
		if cobID == 0 {
			cobID = 0x180 + uint32(tc.Index)*0x100 + uint32(d.NodeID)
		}
		tp, err := pdo.NewTPDO(d.Net, d.Dict, pdo.TPDOOptions{
			COBID:            cobID,
			TransmissionType: tc.TransmissionType,
			Mapping:          tc.Mapping,
		})
		if err != nil {
			return err
		}
		d.TPDOs = append(d.TPDOs, tp)
	}

	for _, rc := range cfg.RPDOs {
		cobID := rc.COBID
		if cobID == 0 {
			cobID = 0x200 + uint32(rc.Index)*0x100 + uint32(d.NodeID)
		}
		rp, err := pdo.NewRPDO(d.Net, d.Dict, d.EMCY, pdo.RPDOOptions{
			COBID:   cobID,
			Mapping: rc.Mapping,
		})
		if err != nil {
			return err
		}
		d.RPDOs = append(d.RPDOs, rp)
	}
	return nil
}

func (d *Device) onSync(counter byte, hasCounter bool) {
	for _, tp := range d.TPDOs {
		tp.OnSync(counter, hasCounter)
	}
}

func (d *Device) onHeartbeatEvent(nodeID uint8, state heartbeat.EventState, reason heartbeat.Reason, nmtState uint8) {
	if state == heartbeat.Occurred {
		d.log.WithField("node", nodeID).Warn("heartbeat consumer timeout")
		if d.EMCY != nil {
			var mfg [5]byte
			d.EMCY.Push(emergency.CodeHeartbeat, emergency.RegisterCommunication, mfg)
		}
	}
}

// SupportsBitRate reports whether rate is listed in the device's
// supported-bit-rates bitset (§6.5).
func (d *Device) SupportsBitRate(rate BitRate) bool {
	return d.supportedBitRates[rate]
}

// IsDummyType reports whether t is declared mappable-as-dummy, letting a
// PDO mapping record reference it (index < 0x20) without a real sub-object.
func (d *Device) IsDummyType(t od.DataType) bool {
	return d.dummyTypes[t]
}

func msToDuration(ms uint32) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func usToDuration(us uint32) time.Duration {
	return time.Duration(us) * time.Microsecond
}

// Close deregisters every service the Device owns.
func (d *Device) Close() {
	if d.NMT != nil {
		d.NMT.Close()
	}
	if d.SDOServer != nil {
		d.SDOServer.Close()
	}
	if d.SDOClient != nil {
		d.SDOClient.Close()
	}
	if d.Sync != nil {
		d.Sync.Stop()
	}
	if d.SyncRecv != nil {
		d.SyncRecv.Close()
	}
	if d.Time != nil {
		d.Time.Stop()
	}
	if d.TimeRecv != nil {
		d.TimeRecv.Close()
	}
	if d.EMCYRecv != nil {
		d.EMCYRecv.Close()
	}
	for _, hc := range d.Heartbeats {
		hc.Close()
	}
	for _, tp := range d.TPDOs {
		tp.Close()
	}
	for _, rp := range d.RPDOs {
		rp.Close()
	}
}
