package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crowdsight/crowd-density-server/internal/vision"
)

// ErrSourceUnavailable is returned by Open when the underlying device, file
// or URL cannot be opened. It is fatal to the owning worker's startup.
var ErrSourceUnavailable = errors.New("source unavailable")

// Kind selects a source implementation.
type Kind string

const (
	KindNetwork Kind = "network"
	KindFile    Kind = "file"
	KindDevice  Kind = "device"
)

// Config describes where frames come from.
type Config struct {
	Kind        Kind   `json:"kind"`
	URL         string `json:"url,omitempty"`
	DeviceIndex int    `json:"device_index,omitempty"`
}

// Options tunes source behavior; zero values fall back to defaults.
type Options struct {
	RingCapacity  int           // network buffering, default 2
	FrameInterval time.Duration // file/device pacing, default 33ms
}

func (o Options) withDefaults() Options {
	if o.RingCapacity <= 0 {
		o.RingCapacity = 2
	}
	if o.FrameInterval <= 0 {
		o.FrameInterval = 33 * time.Millisecond
	}
	return o
}

// Source produces frames from a video origin. Next blocks until a frame is
// available and returns io.EOF once the source is exhausted or closed.
type Source interface {
	Open(ctx context.Context) error
	Next(ctx context.Context) (*vision.Frame, error)
	Close() error
}

// New builds a source for the given config. Legacy kind names from older
// stream definitions ("rtsp", "webcam") are accepted as aliases.
func New(cfg Config, opts Options) (Source, error) {
	opts = opts.withDefaults()

	switch cfg.Kind {
	case KindNetwork, "rtsp":
		return newNetworkSource(cfg.URL, opts.RingCapacity), nil
	case KindFile:
		return newFileSource(cfg.URL, opts.FrameInterval), nil
	case KindDevice, "webcam":
		return newDeviceSource(cfg.URL, cfg.DeviceIndex, opts.FrameInterval), nil
	default:
		return nil, fmt.Errorf("unknown source kind: %q", cfg.Kind)
	}
}
