package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// ErrNoDevice is returned when no capture source is available.
var ErrNoDevice = errors.New("no capture device")

var errBadTimebase = errors.New("ivf timebase gives no frame duration")

const oggPageDuration = 20 * time.Millisecond

// Bundle is one physical capture: camera plus microphone, or a screen.
type Bundle struct {
	Video *LocalTrack
	Audio *LocalTrack

	stopOnce sync.Once
	stop     func()
}

// NewBundle wraps tracks; stop is called once by Stop.
func NewBundle(video, audio *LocalTrack, stop func()) *Bundle {
	return &Bundle{Video: video, Audio: audio, stop: stop}
}

// Stop ends the capture. Safe to call more than once.
func (b *Bundle) Stop() {
	if b == nil {
		return
	}
	b.stopOnce.Do(func() {
		if b.stop != nil {
			b.stop()
		}
	})
}

// Capturer acquires local media.
type Capturer interface {
	Capture(ctx context.Context, source Source) (*Bundle, error)
}

// FileCapturer streams IVF (VP8) and Ogg (Opus) files in a loop, standing in
// for camera, microphone and screen devices.
type FileCapturer struct {
	VideoPath  string
	AudioPath  string
	ScreenPath string
	Log        *slog.Logger
}

func (c *FileCapturer) logger() *slog.Logger {
	if c.Log == nil {
		return slog.Default()
	}
	return c.Log
}

func (c *FileCapturer) Capture(ctx context.Context, source Source) (*Bundle, error) {
	videoPath, audioPath := c.VideoPath, c.AudioPath
	if source == SourceScreen {
		videoPath, audioPath = c.ScreenPath, ""
	}
	if videoPath == "" && audioPath == "" {
		return nil, ErrNoDevice
	}

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	b := &Bundle{stop: func() {
		cancel()
		wg.Wait()
	}}

	if videoPath != "" {
		if err := checkFile(videoPath, checkIVF); err != nil {
			cancel()
			return nil, err
		}
		t, err := NewLocalTrack(source, webrtc.RTPCodecTypeVideo)
		if err != nil {
			cancel()
			return nil, err
		}
		b.Video = t
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(ctx, videoPath, t, streamIVF)
		}()
	}

	if audioPath != "" {
		if err := checkFile(audioPath, checkOgg); err != nil {
			b.Stop()
			return nil, err
		}
		t, err := NewLocalTrack(source, webrtc.RTPCodecTypeAudio)
		if err != nil {
			b.Stop()
			return nil, err
		}
		b.Audio = t
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.loop(ctx, audioPath, t, streamOgg)
		}()
	}

	return b, nil
}

type streamFunc func(ctx context.Context, r io.Reader, t *LocalTrack) error

// loop replays path until ctx ends.
func (c *FileCapturer) loop(ctx context.Context, path string, t *LocalTrack, stream streamFunc) {
	log := c.logger().With("file", path, "track", t.ID())
	for ctx.Err() == nil {
		f, err := os.Open(path)
		if err != nil {
			log.Warn("capture source vanished", "error", err)
			return
		}
		err = stream(ctx, f, t)
		f.Close()
		if err != nil && !errors.Is(err, io.EOF) && ctx.Err() == nil {
			log.Warn("capture stopped", "error", err)
			return
		}
	}
}

func checkFile(path string, check func(io.Reader) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoDevice, err)
	}
	defer f.Close()
	if err := check(f); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func checkIVF(r io.Reader) error {
	_, header, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}
	if header.FourCC != "VP80" {
		return fmt.Errorf("unsupported codec %q, want VP80", header.FourCC)
	}
	_, err = ivfFrameDuration(header)
	return err
}

// ivfFrameDuration reads the frame duration off the timebase. A zero
// denominator means the writer left it unset and 30 fps is assumed.
func ivfFrameDuration(header *ivfreader.IVFFileHeader) (time.Duration, error) {
	if header.TimebaseDenominator == 0 {
		return time.Second / 30, nil
	}
	d := time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	if d <= 0 {
		return 0, fmt.Errorf("%w: %d/%d", errBadTimebase, header.TimebaseNumerator, header.TimebaseDenominator)
	}
	return d, nil
}

func checkOgg(r io.Reader) error {
	_, _, err := oggreader.NewWith(r)
	return err
}

func streamIVF(ctx context.Context, r io.Reader, t *LocalTrack) error {
	ivf, header, err := ivfreader.NewWith(r)
	if err != nil {
		return err
	}

	frameDuration, err := ivfFrameDuration(header)
	if err != nil {
		return err
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if err != nil {
			return err
		}
		if err := t.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return err
		}
	}
}

func streamOgg(ctx context.Context, r io.Reader, t *LocalTrack) error {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return err
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		page, header, err := ogg.ParseNextPage()
		if err != nil {
			return err
		}

		samples := float64(header.GranulePosition - lastGranule)
		lastGranule = header.GranulePosition
		duration := time.Duration(samples / 48000 * float64(time.Second))
		if err := t.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return err
		}
	}
}
