package main

import (
	"context"
	"net"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/rebeljah/rtpcast/engine"
	"github.com/rebeljah/rtpcast/http"
	"github.com/rebeljah/rtpcast/media"
	"github.com/rebeljah/rtpcast/rtp"
	"github.com/rebeljah/rtpcast/sdp"
)

func setupLogging() (*os.File, error) {
	// log next to the executable
	exePath, err := os.Executable()
	if err != nil {
		return nil, err
	}

	logPath := path.Join(path.Dir(exePath), "rtpcast.log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}

	logrus.SetOutput(logFile)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return logFile, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logFile, err := setupLogging()
	if err != nil {
		panic(err)
	}
	defer logFile.Close()

	// .env from the working directory; absent file is fine, the defaults hold
	if err := godotenv.Load(); err != nil {
		logrus.Infof("no .env file loaded: %v", err)
	}

	logrus.Info("starting rtpcast")

	listenAddr := envOr("RTPCAST_LISTEN", "0.0.0.0:5004")
	remoteAddr := envOr("RTPCAST_REMOTE", "127.0.0.1:5006")
	statsAddr := envOr("RTPCAST_STATS", "localhost:8080")
	sdpPath := os.Getenv("RTPCAST_SDP")
	mediaPath := os.Getenv("RTPCAST_MEDIA")
	loop, _ := strconv.ParseBool(os.Getenv("RTPCAST_LOOP"))

	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		logrus.Fatalf("bad listen address %q: %v", listenAddr, err)
	}

	raddr, err := net.ResolveUDPAddr("udp", remoteAddr)
	if err != nil {
		logrus.Fatalf("bad remote address %q: %v", remoteAddr, err)
	}

	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		logrus.Fatalf("failed to bind rtp channel on %v: %v", laddr, err)
	}

	mux := rtp.NewMultiplexer(conn, rtp.MuxConfig{})

	// stream descriptors come from a session description on disk, falling
	// back to a plain PCMU track so the engine can run standalone
	var descriptors []media.Descriptor
	if sdpPath != "" {
		raw, err := os.ReadFile(sdpPath)
		if err != nil {
			logrus.Fatalf("failed to read session description at %v: %v", sdpPath, err)
		}

		descriptors, err = sdp.ParseDescriptors(string(raw))
		if err != nil {
			logrus.Fatalf("failed to parse session description: %v", err)
		}
	} else {
		id, err := media.NewTrackID()
		if err != nil {
			logrus.Fatalf("failed to generate track id: %v", err)
		}
		descriptors = []media.Descriptor{{
			TrackID:     id,
			Kind:        media.Audio,
			PayloadType: 0,
			ClockRate:   8000,
		}}
	}

	var sinks []rtp.Sink
	var producers []*engine.Producer

	for _, d := range descriptors {
		if d.Kind != media.Audio {
			logrus.Infof("skipping non-audio track: %v (%v)", d.TrackID, d.Kind)
			continue
		}

		if mediaPath != "" {
			probeCtx, cancelProbe := context.WithTimeout(context.Background(), 5*time.Second)
			if err := media.ProbeSpec(probeCtx, &d, mediaPath); err != nil {
				logrus.Warnf("could not probe %v: %v", mediaPath, err)
			}
			cancelProbe()
		}

		sink, err := rtp.NewAudioSink(rtp.SinkConfig{
			Mux: mux,
			Context: rtp.ContextConfig{
				Descriptor: d,
				LocalAddr:  laddr,
				RemoteAddr: raddr,
			},
			Loop: loop,
		})
		if err != nil {
			logrus.Fatalf("failed to set up sink for track %v: %v", d.TrackID, err)
		}

		sinks = append(sinks, sink)

		if mediaPath != "" {
			source, err := media.LoadOnDemandFileSource(mediaPath)
			if err != nil {
				logrus.Fatalf("failed to open media at %v: %v", mediaPath, err)
			}

			// one buffer per pacing cycle: a clock rate worth of samples
			producers = append(producers, engine.NewProducer(
				source, sink, int(d.ClockRate), rate.Limit(1),
			))
		}
	}

	statsServer := http.NewServer(mux)
	cli := engine.NewCLI(mux, producers)

	engine.Run(engine.Config{StatsAddr: statsAddr}, mux, statsServer, cli, sinks, producers)
}
