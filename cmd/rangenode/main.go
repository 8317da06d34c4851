package main

import (
	"context"
	"time"

	"rangenode-go/bus"
	"rangenode-go/services/config"
	"rangenode-go/services/hal"
	"rangenode-go/services/heartbeat"
	"rangenode-go/services/reporter"
)

const deviceID = "rangenode"

func printTopicWith(prefix string, t bus.Topic) {
	print(prefix)
	print(" ")
	for i := 0; i < t.Len(); i++ {
		if i > 0 {
			print("/")
		}
		switch v := t.At(i).(type) {
		case string:
			print(v)
		case int:
			print(v)
		case int32:
			print(int(v))
		case int64:
			print(int(v))
		default:
			print("?")
		}
	}
	println()
}

func main() {
	// Let the serial console attach before the first lines go out.
	time.Sleep(3 * time.Second)
	ctx := context.WithValue(context.Background(), config.CtxDeviceKey, deviceID)

	println("[main] bootstrapping bus ...")
	b := bus.NewBus(8)
	halConn := b.NewConnection("hal")
	cfgConn := b.NewConnection("config")
	repConn := b.NewConnection("reporter")
	hbConn := b.NewConnection("heartbeat")
	monConn := b.NewConnection("monitor")

	println("[main] subscribing to hal/# for diagnostics ...")
	mon := monConn.Subscribe(bus.T("hal", "#"))
	go func() {
		for m := range mon.Channel() {
			printTopicWith("[monitor] <-", m.Topic)
		}
	}()

	println("[main] starting hal.Run ...")
	go hal.Run(ctx, halConn, hal.DefaultRegistry())

	println("[main] starting reporter ...")
	rep := reporter.New(repConn, hal.DefaultReportPort)
	go rep.Run(ctx)

	println("[main] starting heartbeat ...")
	hb := &heartbeat.Service{}
	_ = hb.Start(ctx, hbConn)

	// The config service publishes retained config/hal, config/reporter and
	// config/heartbeat from the embedded document; every service above picks
	// its section up via retained replay.
	println("[main] publishing embedded config ...")
	config.NewConfigService().Start(ctx, cfgConn)

	select {}
}
