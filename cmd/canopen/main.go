package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/canopen-go/canopen/pkg/can"
	_ "github.com/canopen-go/canopen/pkg/can/socketcan"
	_ "github.com/canopen-go/canopen/pkg/can/virtual"
	"github.com/canopen-go/canopen/pkg/frame"
	"github.com/canopen-go/canopen/pkg/network"
	"github.com/canopen-go/canopen/pkg/node"
	"github.com/canopen-go/canopen/pkg/od"
	log "github.com/sirupsen/logrus"
)

var (
	defaultNodeID     = 0x20
	defaultInterface  = "virtual"
	defaultChannel    = "can0"
	defaultDomainFile = "canopen-domain.bin"
)

// mapParam encodes a CiA-301 PDO mapping-parameter entry: index, subindex
// and bit length packed into a single u32.
func mapParam(index uint16, sub uint8, bitLen uint8) uint32 {
	return uint32(index)<<16 | uint32(sub)<<8 | uint32(bitLen)
}

// buildDictionary constructs a small demonstration object dictionary: a
// read-only device-type entry, a counter mappable into TPDO1, a setpoint
// mappable into RPDO1, and a file-backed domain object at 0x200F.
//
// There is no EDS/DCF parser here: object dictionaries are built in code,
// the way an application integrating this module is expected to.
func buildDictionary(domainFilePath string) *od.ObjectDictionary {
	dict := od.New()

	deviceType := od.NewVariable(0, "device-type", od.Unsigned32, od.AttrSDOR, []byte{0, 0, 0, 0})
	deviceTypeObj := od.NewObject(0x1000, "device-type", od.ObjectVAR)
	deviceTypeObj.AddSub(deviceType)
	dict.AddObject(deviceTypeObj)

	counter := od.NewVariable(0, "counter", od.Unsigned32, od.AttrSDORW|od.AttrTPDO, make([]byte, 4))
	counter.Limits.NoLimit = true
	counterObj := od.NewObject(0x2000, "counter", od.ObjectVAR)
	counterObj.AddSub(counter)
	dict.AddObject(counterObj)

	setpoint := od.NewVariable(0, "setpoint", od.Unsigned16, od.AttrSDORW|od.AttrRPDO, make([]byte, 2))
	setpoint.Limits.NoLimit = true
	setpointObj := od.NewObject(0x2001, "setpoint", od.ObjectVAR)
	setpointObj.AddSub(setpoint)
	dict.AddObject(setpointObj)

	domainObj := od.NewObject(0x200F, "file-domain", od.ObjectVAR)
	domainObj.AddSub(domainFileVariable(domainFilePath))
	dict.AddObject(domainObj)

	return dict
}

func main() {
	log.SetLevel(log.InfoLevel)

	interfaceType := flag.String("i", defaultInterface, fmt.Sprintf("CAN interface type (%v)", can.ImplementedInterfaces))
	channel := flag.String("c", defaultChannel, "interface channel, e.g. can0 or a virtual bus name")
	nodeID := flag.Int("n", defaultNodeID, "node id (1-127)")
	domainFile := flag.String("f", defaultDomainFile, "backing file for the 0x200F domain object")
	flag.Parse()

	bus, err := can.NewBus(*interfaceType, *channel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "could not create %s interface on %s: %v\n", *interfaceType, *channel, err)
		os.Exit(1)
	}

	net := network.New()
	bus.SetReceiveFunc(func(f frame.Frame) { net.Recv(f) })
	net.SetSendFunc(bus.Send)

	if err := bus.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", *channel, err)
		os.Exit(1)
	}
	defer bus.Disconnect()

	dict := buildDictionary(*domainFile)

	dev, err := node.New(net, dict, node.Config{
		NodeID:              uint8(*nodeID),
		HeartbeatProducerMs: 1000,
		SDOServerTimeoutMs:  1000,
		SDOClientTimeoutMs:  1000,
		TPDOs: []node.TPDOConfig{
			{Index: 0, TransmissionType: 1, Mapping: []uint32{mapParam(0x2000, 0, 32)}},
		},
		RPDOs: []node.RPDOConfig{
			{Index: 0, Mapping: []uint32{mapParam(0x2001, 0, 16)}},
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to assemble node: %v\n", err)
		os.Exit(1)
	}
	defer dev.Close()

	log.WithFields(log.Fields{
		"node":      dev.NodeID,
		"interface": *interfaceType,
		"channel":   *channel,
	}).Info("canopen device started")

	// The network core never spawns its own goroutine or timer; the host
	// drives its clock. SetNextTimerFunc wakes this loop early whenever a
	// protocol timer is armed sooner than the next tick, instead of
	// busy-polling at tick resolution.
	wake := make(chan struct{}, 1)
	net.SetNextTimerFunc(func(_ time.Time, _ bool) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-sigs:
			log.Info("shutting down")
			return
		case <-ticker.C:
			if err := net.SetTime(time.Now()); err != nil {
				log.WithError(err).Warn("clock update rejected")
			}
		case <-wake:
			if err := net.SetTime(time.Now()); err != nil {
				log.WithError(err).Warn("clock update rejected")
			}
		}
	}
}
