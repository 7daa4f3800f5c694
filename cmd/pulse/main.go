// Command pulse publishes a synthetic H.264+AAC stream over RTP/UDP,
// exercising the full transmission pipeline: queueing, packetization,
// sender reports, and bitrate measurement.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/pulse/media"
	"github.com/zsiec/pulse/pipeline"
	"github.com/zsiec/pulse/transport"
)

var version = "dev"

// Parameter sets for the synthetic 1280x720 baseline stream.
var (
	testSPS = []byte{
		0x67, 0x42, 0xc0, 0x1f, 0xda, 0x01, 0x40, 0x16,
		0xec, 0x04, 0x40, 0x00, 0x00, 0x03, 0x00, 0x40,
		0x00, 0x00, 0x0c, 0x83, 0xc6, 0x0c, 0x92,
	}
	testPPS = []byte{0x68, 0xce, 0x3c, 0x80}
)

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	host := envOr("RTP_HOST", "127.0.0.1")
	videoPort := envIntOr("VIDEO_PORT", 5004)
	audioPort := envIntOr("AUDIO_PORT", 5006)

	slog.Info("pulse starting",
		"version", version,
		"host", host,
		"videoPort", videoPort,
		"audioPort", audioPort,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	sender := pipeline.New(
		func(reason string) {
			slog.Error("session failed", "reason", reason)
			cancel()
		},
		func(bps float64) {
			slog.Info("outgoing bitrate", "kbps", int64(bps/1000))
		},
	)

	if err := sender.SetVideoInfo(media.VideoH264, testSPS, testPPS, nil); err != nil {
		slog.Error("video config", "error", err)
		os.Exit(1)
	}
	if err := sender.SetAudioInfo(media.AudioAAC, 48000); err != nil {
		slog.Error("audio config", "error", err)
		os.Exit(1)
	}
	if err := sender.SetSocketsInfo(transport.ProtocolUDP, host,
		transport.Ports{RTP: videoPort, RTCP: videoPort + 1},
		transport.Ports{RTP: audioPort, RTCP: audioPort + 1},
	); err != nil {
		slog.Error("transport setup", "error", err)
		os.Exit(1)
	}

	if err := sender.Start(); err != nil {
		slog.Error("start", "error", err)
		os.Exit(1)
	}
	defer sender.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return produceVideo(ctx, sender) })
	g.Go(func() error { return produceAudio(ctx, sender) })
	g.Go(func() error { return watchQueue(ctx, sender) })
	g.Wait()

	snap := sender.Snapshot()
	slog.Info("final totals",
		"videoSent", snap.VideoSent,
		"audioSent", snap.AudioSent,
		"videoDropped", snap.VideoDropped,
		"audioDropped", snap.AudioDropped,
	)
}

// produceVideo offers 30 synthetic access units per second, a keyframe-sized
// one every second and smaller delta frames in between.
func produceVideo(ctx context.Context, sender *pipeline.Sender) error {
	ticker := time.NewTicker(time.Second / 30)
	defer ticker.Stop()

	start := time.Now()
	frame := 0
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		size, nalType := 1200, byte(0x41)
		if frame%30 == 0 {
			size, nalType = 24000, 0x65
		}
		sender.SendFrame(&media.Frame{
			Kind: media.KindVideo,
			Data: fakeNALU(nalType, size),
			PTS:  time.Since(start).Microseconds(),
		})
		frame++
	}
}

// produceAudio offers one 1024-sample AAC frame every ~21ms at 48 kHz.
func produceAudio(ctx context.Context, sender *pipeline.Sender) error {
	const frameDur = 1024 * time.Second / 48000
	ticker := time.NewTicker(frameDur)
	defer ticker.Stop()

	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		sender.SendFrame(&media.Frame{
			Kind: media.KindAudio,
			Data: make([]byte, 256),
			PTS:  time.Since(start).Microseconds(),
		})
	}
}

// watchQueue logs a warning whenever the queue crosses the congestion
// threshold, the signal a real producer would use to reduce its rate.
func watchQueue(ctx context.Context, sender *pipeline.Sender) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		congested, err := sender.HasCongestion(pipeline.DefaultCongestionThreshold)
		if err != nil {
			return err
		}
		if congested {
			slog.Warn("queue congested",
				"buffered", sender.ItemsInCache(),
				"capacity", sender.CacheSize(),
			)
		}
	}
}

// fakeNALU builds an Annex B access unit with a filler payload.
func fakeNALU(nalType byte, size int) []byte {
	data := make([]byte, size)
	copy(data, []byte{0x00, 0x00, 0x00, 0x01, nalType})
	for i := 5; i < size; i++ {
		data[i] = byte(i)
	}
	return data
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
