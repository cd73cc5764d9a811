package main

import (
	"flag"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/lab47/efvi/efct"
	"github.com/lab47/efvi/loopback"
	"github.com/lab47/efvi/superbuf"
	"github.com/lab47/lsvd/logger"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	fFrames      = flag.Int("frames", 10000, "frames to send")
	fPayload     = flag.Int("payload", 64, "udp payload bytes per frame")
	fRxqs        = flag.Int("rxqs", 2, "rxqs bound to the port")
	fMaxSbufs    = flag.Uint("max-superbufs", 16, "superbufs each rxq may hold")
	fEvqEntries  = flag.Int("evq-entries", 1024, "event queue entries")
	fMetricsAddr = flag.String("metrics-addr", "", "serve prometheus metrics on this address")
)

func frame(payload int) ([]byte, error) {
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x02, 0, 0, 0, 0, 1},
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TTL:      64,
		Protocol: layers.IPProtocolUDP,
		SrcIP:    net.IPv4(192, 168, 0, 1),
		DstIP:    net.IPv4(192, 168, 0, 255),
	}
	udp := &layers.UDP{SrcPort: 9000, DstPort: 9000}
	udp.SetNetworkLayerForChecksum(ip)

	buf := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true},
		eth, ip, udp, gopacket.Payload(make([]byte, payload)))
	if err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// consume reads frames off rxq until stop is set.
func consume(log logger.Logger, p *loopback.Port, rxq *superbuf.Rxq, stop *atomic.Bool, received *atomic.Int64) {
	shm := rxq.Shm()

	for !stop.Load() {
		sbid, ok := shm.Next()
		if !ok {
			continue
		}

		pkt := gopacket.NewPacket(p.Frame(sbid), layers.LayerTypeEthernet, gopacket.NoCopy)
		if pkt.Layer(layers.LayerTypeUDP) == nil {
			log.Warn("received frame without udp", "superbuf", sbid)
		}

		received.Add(1)

		for !shm.Release(sbid) {
		}
	}
}

func main() {
	flag.Parse()

	log := logger.New(logger.Trace)

	reg := prometheus.NewRegistry()

	if *fMetricsAddr != "" {
		go func() {
			err := http.ListenAndServe(*fMetricsAddr, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
			if err != nil {
				log.Error("error serving metrics", "error", err)
			}
		}()
	}

	p, err := loopback.NewPort(log, loopback.Config{
		EvqEntries: *fEvqEntries,
		Registry:   reg,
	})
	if err != nil {
		panic(err)
	}

	data, err := frame(*fPayload)
	if err != nil {
		panic(err)
	}

	var (
		rxqs     []*superbuf.Rxq
		received atomic.Int64
		stop     atomic.Bool
		wg       sync.WaitGroup
	)

	for i := 0; i < *fRxqs; i++ {
		rxq, err := p.Bind(superbuf.RxqConfig{MaxAllowedSuperbufs: uint32(*fMaxSbufs)})
		if err != nil {
			panic(err)
		}

		rxqs = append(rxqs, rxq)

		wg.Add(1)
		go func() {
			defer wg.Done()
			consume(log, p, rxq, &stop, &received)
		}()
	}

	var completed int

	done := func(efct.RequestID) {
		completed++
	}

	start := time.Now()

	for sent := 0; sent < *fFrames; {
		err := p.Transmit(data, efct.RequestID(sent))
		if errors.Is(err, efct.ErrAgain) {
			p.Poll(done)
			continue
		}

		if err != nil {
			log.Error("error transmitting", "error", err)
			return
		}

		sent++
	}

	for completed < *fFrames {
		p.Poll(done)
	}

	elapsed := time.Since(start)

	stop.Store(true)
	wg.Wait()

	var freed int
	for _, rxq := range rxqs {
		p.Free(rxq, func(*superbuf.Rxq) { freed++ })
	}

	for freed < len(rxqs) {
		p.Poll(done)
	}

	if err := p.Verify(); err != nil {
		log.Error("superbuf ownership inconsistent", "error", err)
	}

	log.Info("loopback finished",
		"elapsed", elapsed,
		"frames-per-sec", float64(*fFrames)/elapsed.Seconds(),
		"received", received.Load(),
		"stats", p.Stats().String(),
	)
}
