package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/btsinkd/btsinkd/internal/acl"
	"github.com/btsinkd/btsinkd/internal/avctp"
	"github.com/btsinkd/btsinkd/internal/avdtp"
	"github.com/btsinkd/btsinkd/internal/avrcp"
	"github.com/btsinkd/btsinkd/internal/btsnoop"
	"github.com/btsinkd/btsinkd/internal/config"
	"github.com/btsinkd/btsinkd/internal/connmgr"
	"github.com/btsinkd/btsinkd/internal/hci"
	"github.com/btsinkd/btsinkd/internal/hciusb"
	"github.com/btsinkd/btsinkd/internal/l2cap"
	"github.com/btsinkd/btsinkd/internal/logging"
	"github.com/btsinkd/btsinkd/internal/sdp"
)

// sinkSEID is the (sole) stream endpoint id this daemon advertises.
const sinkSEID uint8 = 1

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	root := logging.New(cfg.LogLevel)
	log := logging.For(root, "btsinkd")

	dev, err := hciusb.Open(cfg.USBVendorID, cfg.USBProductID)
	if err != nil {
		return fmt.Errorf("opening controller: %w", err)
	}
	defer dev.Close()

	loop := hci.New(dev, cfg.CommandQuota, logging.For(root, "hci"))

	if cfg.BtsnoopPath != "" {
		capture, err := btsnoop.Open(cfg.BtsnoopPath, logging.For(root, "btsnoop"))
		if err != nil {
			return fmt.Errorf("opening btsnoop capture: %w", err)
		}
		defer capture.Close()
		loop.SetCapture(capture)
		log.WithField("path", cfg.BtsnoopPath).Info("btsnoop capture enabled")
	}

	store, err := connmgr.OpenLinkKeyStore(cfg.LinkKeyStorePath)
	if err != nil {
		return fmt.Errorf("opening link key store: %w", err)
	}
	defer store.Close()

	mgr := connmgr.New(loop, store, cfg.PINCode, logging.For(root, "connmgr"))

	l2capCore := l2cap.New(loop, logging.For(root, "l2cap"))
	mgr.NotifyOnDisconnect(l2capCore)

	reasm := acl.New(logging.For(root, "acl"), l2capCore.Feed)
	loop.RegisterACLHandler(reasm.Feed)

	registerAVCTP(l2capCore, logging.For(root, "avrcp"))
	registerAVDTP(l2capCore, logging.For(root, "avdtp"))
	logRecords(log)

	runDone := make(chan error, 2)
	go func() { runDone <- loop.Run() }()
	go func() {
		loop.ACLInboundLoop()
		runDone <- nil
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	log.Info("btsinkd is running, press Ctrl+C to stop")

	select {
	case <-sigc:
		signal.Stop(sigc)
		log.Info("shutdown signal received")
		loop.Shutdown()
		return nil
	case err := <-runDone:
		signal.Stop(sigc)
		if err != nil {
			log.WithError(err).Error("hci event loop stopped")
		}
		return err
	}
}

// registerAVDTP wires an SBC audio-sink endpoint onto the AVDTP PSM. SBC
// decoding and audio output are external collaborators, not this core's
// job, so the stream handler only logs lifecycle/data callbacks.
func registerAVDTP(l2capCore *l2cap.L2CAP, log *logrus.Entry) {
	sbcInfo := avdtp.DefaultSBCCodecInformation()
	endpoint := avdtp.NewLocalEndpoint(sinkSEID, []avdtp.Capability{
		{Category: avdtp.CategoryMediaTransport},
		{Category: avdtp.CategoryMediaCodec, Codec: &avdtp.MediaCodecCapability{
			MediaType: avdtp.MediaTypeAudio,
			Codec:     avdtp.CodecSBC,
			SBC:       &sbcInfo,
		}},
	}, func(caps []avdtp.Capability) avdtp.StreamHandler {
		return &loggingStreamHandler{log: log}
	})

	server := avdtp.NewServer(log, []*avdtp.LocalEndpoint{endpoint})
	l2capCore.RegisterHandler(avdtp.PSM, func(ch *l2cap.Channel) {
		server.HandleChannel(ch, ch.Handle)
	})
}

// registerAVCTP wires the AVRCP transaction multiplexer onto the AVCTP
// control channel. One Session is created per incoming channel.
func registerAVCTP(l2capCore *l2cap.L2CAP, log *logrus.Entry) {
	l2capCore.RegisterHandler(avctp.PSM, func(ch *l2cap.Channel) {
		channel := avctp.New(ch, log)
		sess := avrcp.NewSession(log, channel)
		go drainEvents(sess, log)
		go channel.Run()
	})
}

func drainEvents(sess *avrcp.Session, log *logrus.Entry) {
	for e := range sess.Events() {
		log.WithField("event", e).Debug("avrcp: notification event")
	}
}

// logRecords builds (but does not serve -- the SDP server is an external
// collaborator) the service records a full stack would advertise, so the
// records this daemon would need are exercised at startup.
func logRecords(log *logrus.Entry) {
	if rec, err := sdp.AudioSinkRecord(1); err == nil {
		log.WithField("attributes", len(rec.Attributes())).Debug("sdp: audio sink record built")
	}
	if rec, err := sdp.AVRCPControllerRecord(2); err == nil {
		log.WithField("attributes", len(rec.Attributes())).Debug("sdp: avrcp controller record built")
	}
}

type loggingStreamHandler struct {
	log *logrus.Entry
}

func (h *loggingStreamHandler) OnPlay() { h.log.Debug("avdtp: stream entered Streaming state") }
func (h *loggingStreamHandler) OnStop() { h.log.Debug("avdtp: stream left Streaming state") }
func (h *loggingStreamHandler) OnData(payload []byte) {
	h.log.WithField("bytes", len(payload)).Trace("avdtp: media payload")
}
