package config

import (
	"fmt"

	"github.com/marmos91/dsp/internal/dsp/channel"
	"github.com/marmos91/dsp/internal/dsp/codec"
	"github.com/marmos91/dsp/internal/dsp/frame"
	"github.com/marmos91/dsp/internal/dsp/wire"
)

func digestAlgorithm(name string) (wire.DigestAlgorithm, error) {
	switch name {
	case "", "none":
		return wire.DigestNone, nil
	case "crc32":
		return wire.DigestCRC32, nil
	case "adler32":
		return wire.DigestAdler32, nil
	default:
		return 0, fmt.Errorf("config: unknown digest algorithm %q", name)
	}
}

func compressAlgorithm(name string) (wire.CompressAlgorithm, error) {
	switch name {
	case "", "none":
		return wire.CompressNone, nil
	case "deflate":
		return wire.CompressDeflate, nil
	case "gzip":
		return wire.CompressGzip, nil
	case "lz4":
		return wire.CompressLZ4, nil
	default:
		return 0, fmt.Errorf("config: unknown compress algorithm %q", name)
	}
}

func schedulerPolicy(name string) (wire.SchedulerPolicy, error) {
	switch name {
	case "", "round_robin":
		return wire.SchedulerRoundRobin, nil
	case "least_queue":
		return wire.SchedulerLeastQueue, nil
	default:
		return 0, fmt.Errorf("config: unknown scheduler policy %q", name)
	}
}

// ServiceCodec returns the codec.ServiceCodec named by cfg.Codec.
func (cfg Config) ServiceCodec() (codec.ServiceCodec, error) {
	switch cfg.Codec {
	case "", "json":
		return codec.JSON{}, nil
	case "xdr":
		return codec.XDR{}, nil
	default:
		return nil, fmt.Errorf("config: unknown codec %q", cfg.Codec)
	}
}

// FrameOptions translates FrameConfig into the frame.Options the
// channel and responder encode/decode with.
func (cfg Config) FrameOptions() (frame.Options, error) {
	header, err := digestAlgorithm(cfg.Frame.HeaderDigest)
	if err != nil {
		return frame.Options{}, err
	}
	frm, err := digestAlgorithm(cfg.Frame.FrameDigest)
	if err != nil {
		return frame.Options{}, err
	}
	payload, err := digestAlgorithm(cfg.Frame.PayloadDigest)
	if err != nil {
		return frame.Options{}, err
	}
	compress, err := compressAlgorithm(cfg.Frame.PayloadCompress)
	if err != nil {
		return frame.Options{}, err
	}
	return frame.Options{
		HeaderDigest:  header,
		FrameDigest:   frm,
		PayloadDigest: payload,
		Compress:      compress,
		DigestData:    cfg.Frame.DigestData,
	}, nil
}

// channelConfig builds an internal/dsp/channel.Config for one
// direction (fore or back), sharing the scheduler/sync-dispatch/
// bandwidth settings that apply to both.
func (cfg Config) channelConfig(dir ChannelConfig, slots uint32) (channel.Config, error) {
	svcCodec, err := cfg.ServiceCodec()
	if err != nil {
		return channel.Config{}, err
	}
	sched, err := schedulerPolicy(cfg.Scheduler)
	if err != nil {
		return channel.Config{}, err
	}
	frameOpts, err := cfg.FrameOptions()
	if err != nil {
		return channel.Config{}, err
	}
	return channel.Config{
		Codec:           svcCodec,
		Slots:           slots,
		SchedulerPolicy: sched,
		BandwidthLimit:  cfg.BandwidthLimit,
		FrameOptions:    frameOpts,
		SyncDispatch:    cfg.SyncDispatch,
		QueueDepth:      dir.QueueDepth,
		MaxRequestSize:  dir.MaxRequest,
		MaxTransports:   cfg.Transport.MaxTransports,
	}, nil
}

// ForeChannelConfig builds the fore channel.Config with the given slot
// count (fore channels carry application requests and so are usually
// sized to spec.md's slot table, unlike back channels which callback
// rarely and need few slots).
func (cfg Config) ForeChannelConfig(slots uint32) (channel.Config, error) {
	return cfg.channelConfig(cfg.Fore, slots)
}

// BackChannelConfig builds the back channel.Config with the given slot
// count.
func (cfg Config) BackChannelConfig(slots uint32) (channel.Config, error) {
	return cfg.channelConfig(cfg.Back, slots)
}
